package auth

import "github.com/gin-gonic/gin"

const (
	userIDKey = "userID"
	roleKey   = "userRole"
)

// GetActor returns the authenticated caller stored by AuthRequired.
func GetActor(c *gin.Context) Actor {
	return Actor{
		UserID: c.GetString(userIDKey),
		Role:   Role(c.GetString(roleKey)),
	}
}

func setActor(c *gin.Context, a Actor) {
	c.Set(userIDKey, a.UserID)
	c.Set(roleKey, string(a.Role))
}

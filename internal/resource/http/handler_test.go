package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
	"github.com/nekogravitycat/event-booking-backend/internal/pkg/response"
	"github.com/nekogravitycat/event-booking-backend/internal/resource"
)

func setupRouter(t *testing.T) (*gin.Engine, *auth.JWTManager, *resource.Resource) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	binding.EnableDecoderDisallowUnknownFields = true

	svc := resource.NewService(resource.NewMemoryRepository())
	venue, err := svc.Create(context.Background(),
		auth.Actor{UserID: "owner-v", Role: auth.RoleVenueOwner},
		resource.CreateRequest{Kind: resource.KindVenue, Name: "Hall V"},
	)
	require.NoError(t, err)

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	router := gin.New()
	RegisterRoutes(router.Group("/api"), NewHandler(svc, zap.NewNop()), auth.AuthRequired(jwtManager))
	return router, jwtManager, venue
}

func TestResourceHandlers(t *testing.T) {
	router, jwtManager, venue := setupRouter(t)

	token := func(userID string, role auth.Role) string {
		tok, err := jwtManager.GenerateAccessToken(userID, role)
		require.NoError(t, err)
		return tok
	}
	supplier := token("owner-s", auth.RoleSupplier)
	venueOwner := token("owner-v", auth.RoleVenueOwner)
	client := token("client-1", auth.RoleClient)
	admin := token("admin", auth.RoleAdmin)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       string
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "supplier registers a supplier resource",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      supplier,
			body:       `{"kind":"supplier","name":"DJ S","default_duration_minutes":180}`,
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte) {
				var res ResourceResponse
				require.NoError(t, json.Unmarshal(body, &res))
				assert.Equal(t, "supplier", res.Kind)
				assert.Equal(t, "owner-s", res.OwnerID)
				assert.Equal(t, 180, res.DefaultDurationMinutes)
			},
		},
		{
			name:       "admin registers on behalf of an owner",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      admin,
			body:       `{"kind":"venue","name":"Hall W","owner_id":"owner-w"}`,
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte) {
				var res ResourceResponse
				require.NoError(t, json.Unmarshal(body, &res))
				assert.Equal(t, "owner-w", res.OwnerID)
			},
		},
		{
			name:       "venue owner cannot register a supplier",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      venueOwner,
			body:       `{"kind":"supplier","name":"Catering"}`,
			wantStatus: http.StatusForbidden,
			check: func(t *testing.T, body []byte) {
				var res response.ErrorResponse
				require.NoError(t, json.Unmarshal(body, &res))
				assert.Equal(t, "Forbidden", res.Kind)
			},
		},
		{
			name:       "client cannot register a venue",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      client,
			body:       `{"kind":"venue","name":"Backyard"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown kind",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      supplier,
			body:       `{"kind":"band","name":"The Band"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			path:       "/api/resources",
			token:      supplier,
			body:       `{"kind":"supplier","name":"DJ T","price":10}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing token",
			method:     http.MethodPost,
			path:       "/api/resources",
			body:       `{"kind":"supplier","name":"DJ U"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "get existing",
			method:     http.MethodGet,
			path:       "/api/resources/" + venue.ID,
			token:      client,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var res ResourceResponse
				require.NoError(t, json.Unmarshal(body, &res))
				assert.Equal(t, venue.ID, res.ID)
				assert.Equal(t, "Hall V", res.Name)
			},
		},
		{
			name:       "get missing",
			method:     http.MethodGet,
			path:       "/api/resources/00000000-0000-4000-8000-000000000000",
			token:      client,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "get malformed id",
			method:     http.MethodGet,
			path:       "/api/resources/not-a-uuid",
			token:      client,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "list venues",
			method:     http.MethodGet,
			path:       "/api/resources?kind=venue",
			token:      client,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var page response.PageResponse[ResourceResponse]
				require.NoError(t, json.Unmarshal(body, &page))
				assert.Equal(t, 2, page.Total)
				for _, item := range page.Items {
					assert.Equal(t, "venue", item.Kind)
				}
			},
		},
		{
			name:       "list by owner",
			method:     http.MethodGet,
			path:       "/api/resources?owner_id=owner-s&page_size=5",
			token:      client,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var page response.PageResponse[ResourceResponse]
				require.NoError(t, json.Unmarshal(body, &page))
				require.Len(t, page.Items, 1)
				assert.Equal(t, "DJ S", page.Items[0].Name)
				assert.Equal(t, 5, page.PageSize)
			},
		},
		{
			name:       "list with bad kind",
			method:     http.MethodGet,
			path:       "/api/resources?kind=band",
			token:      client,
			wantStatus: http.StatusBadRequest,
		},
	}

	// Cases run in order; the list cases see the resources created above.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.check != nil {
				tt.check(t, rr.Body.Bytes())
			}
		})
	}
}

package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/event-booking-backend/internal/auth"
)

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	venueOwner := auth.Actor{UserID: "owner-1", Role: auth.RoleVenueOwner}
	supplier := auth.Actor{UserID: "dj-1", Role: auth.RoleSupplier}
	admin := auth.Actor{UserID: "admin", Role: auth.RoleAdmin}

	t.Run("venue owner registers a venue", func(t *testing.T) {
		res, err := svc.Create(ctx, venueOwner, CreateRequest{Kind: KindVenue, Name: "  Grand Hall "})
		require.NoError(t, err)
		assert.NotEmpty(t, res.ID)
		assert.Equal(t, "Grand Hall", res.Name)
		assert.Equal(t, "owner-1", res.OwnerID)

		got, err := svc.GetByID(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, KindVenue, got.Kind)
	})

	t.Run("supplier default duration in minutes", func(t *testing.T) {
		res, err := svc.Create(ctx, supplier, CreateRequest{Kind: KindSupplier, Name: "DJ", DefaultDuration: 240})
		require.NoError(t, err)
		assert.Equal(t, 4*time.Hour, res.DefaultDuration)
	})

	t.Run("role must match kind", func(t *testing.T) {
		_, err := svc.Create(ctx, supplier, CreateRequest{Kind: KindVenue, Name: "Hall"})
		assert.ErrorIs(t, err, ErrPermissionDenied)

		_, err = svc.Create(ctx, auth.Actor{UserID: "c", Role: auth.RoleClient}, CreateRequest{Kind: KindSupplier, Name: "x"})
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("admin may register on behalf of an owner", func(t *testing.T) {
		res, err := svc.Create(ctx, admin, CreateRequest{Kind: KindVenue, Name: "Loft", OwnerID: "owner-9"})
		require.NoError(t, err)
		assert.Equal(t, "owner-9", res.OwnerID)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := svc.Create(ctx, venueOwner, CreateRequest{Kind: "castle", Name: "x"})
		assert.ErrorIs(t, err, ErrInvalidKind)
		_, err = svc.Create(ctx, venueOwner, CreateRequest{Kind: KindVenue, Name: "   "})
		assert.ErrorIs(t, err, ErrEmptyName)
		_, err = svc.Create(ctx, supplier, CreateRequest{Kind: KindSupplier, Name: "x", DefaultDuration: -1})
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_ListFilters(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryRepository())

	for i, a := range []auth.Actor{
		{UserID: "o1", Role: auth.RoleVenueOwner},
		{UserID: "o1", Role: auth.RoleVenueOwner},
		{UserID: "s1", Role: auth.RoleSupplier},
	} {
		kind := KindVenue
		if a.Role == auth.RoleSupplier {
			kind = KindSupplier
		}
		_, err := svc.Create(ctx, a, CreateRequest{Kind: kind, Name: string(rune('a' + i))})
		require.NoError(t, err)
	}

	_, total, err := svc.List(ctx, Filter{Kind: KindVenue})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	items, total, err := svc.List(ctx, Filter{OwnerID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, KindSupplier, items[0].Kind)

	items, total, err = svc.List(ctx, Filter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)
}

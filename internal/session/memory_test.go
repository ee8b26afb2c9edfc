package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/models"
)

func TestMemoryStoreReadYourWrites(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	key := models.SessionKey{UserID: "u1", BrandID: "x"}

	s, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, s.Turns)

	s.AppendTurn(models.Turn{Role: models.RoleUser, Text: "hello", Timestamp: time.Now()}, 10)
	require.NoError(t, store.Save(ctx, s))

	again, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, again.Turns, 1)
	assert.Equal(t, "hello", again.Turns[0].Text)

	// mutating the loaded copy does not leak into the store
	again.Turns[0].Text = "changed"
	third, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", third.Turns[0].Text)
}

func TestMemoryStoreExpiresAfterTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()
	key := models.SessionKey{UserID: "u1", BrandID: "x"}

	s, _ := store.Load(ctx, key)
	s.AppendTurn(models.Turn{Role: models.RoleUser, Text: "hello", Timestamp: clock}, 10)
	require.NoError(t, store.Save(ctx, s))

	clock = clock.Add(2 * time.Minute)
	fresh, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, fresh.Turns)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, models.NewSession(models.SessionKey{UserID: u, BrandID: "x"}, clock)))
	}
	clock = clock.Add(30 * time.Second)
	require.NoError(t, store.Save(ctx, models.NewSession(models.SessionKey{UserID: "d", BrandID: "x"}, clock)))

	clock = clock.Add(45 * time.Second)
	assert.Equal(t, 3, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreBrandsAreSeparate(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	a := models.NewSession(models.SessionKey{UserID: "u1", BrandID: "x"}, time.Now())
	a.AppendTurn(models.Turn{Role: models.RoleUser, Text: "for x"}, 10)
	require.NoError(t, store.Save(ctx, a))

	b, err := store.Load(ctx, models.SessionKey{UserID: "u1", BrandID: "y"})
	require.NoError(t, err)
	assert.Empty(t, b.Turns)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()
	key := models.SessionKey{UserID: "u1", BrandID: "x"}

	require.NoError(t, store.Save(ctx, models.NewSession(key, time.Now())))
	require.NoError(t, store.Delete(ctx, key))
	assert.Equal(t, 0, store.Len())
}

package database

import (
	"context"
	"os"
	"testing"

	"prayerreminder/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when PRAYER_TEST_MONGO_URI is set.
func TestStore(t *testing.T) {
	uri := os.Getenv("PRAYER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PRAYER_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	c, err := ConnectDB(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(ctx) })

	var s storage.Store = Store{DB: Database{Database: c.Database(Name + "_test")}}
	t.Cleanup(func() { _ = c.Database(Name + "_test").Drop(ctx) })

	_, err = s.Get(ctx, storage.KeyDeviceID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(ctx, storage.KeyDeviceID, `"d1"`))
	require.NoError(t, s.Set(ctx, storage.KeyDeviceID, `"d2"`))
	v, err := s.Get(ctx, storage.KeyDeviceID)
	require.NoError(t, err)
	assert.Equal(t, `"d2"`, v)

	require.NoError(t, s.Delete(ctx, storage.KeyDeviceID))
	_, err = s.Get(ctx, storage.KeyDeviceID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

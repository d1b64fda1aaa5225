package repository_test

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/storefront-sync/internal/core/domain"
)

// testStore runs the behaviour every domain.KVStore must share.
func testStore(t *testing.T, store domain.KVStore) {
	t.Helper()

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{name: "token value: ok", key: "session:customer:token", value: []byte(gofakeit.UUID())},
		{name: "json payload: ok", key: "cart:state", value: []byte(`{"items":[],"total":"0"}`)},
		{name: "empty value: ok", key: "session:admin:token", value: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, tt.key)
			require.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, store.Set(ctx, tt.key, tt.value))

			got, err := store.Get(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, string(tt.value), string(got))

			require.NoError(t, store.Delete(ctx, tt.key))
			_, err = store.Get(ctx, tt.key)
			require.ErrorIs(t, err, domain.ErrNotFound)
		})
	}

	t.Run("overwrite keeps last value: ok", func(t *testing.T) {
		ctx := context.Background()
		key := "session:seller:token"
		defer store.Delete(ctx, key)

		require.NoError(t, store.Set(ctx, key, []byte("first")))
		require.NoError(t, store.Set(ctx, key, []byte("second")))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("delete missing key: ok", func(t *testing.T) {
		assert.NoError(t, store.Delete(context.Background(), "missing:"+gofakeit.UUID()))
	})
}

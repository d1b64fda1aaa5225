package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/storefront-sync/internal/core/repository"
)

func TestMemoryStore(t *testing.T) {
	testStore(t, repository.NewMemoryStore())
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	value := []byte("token")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "token", string(got))

	got[0] = 'Y'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "token", string(again))
}

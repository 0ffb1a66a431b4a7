package definition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepository_PutThenGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "greet", "1.0.0", "document: {}"))

	src, err := repo.Get(ctx, "greet", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "document: {}", src)
}

func TestInMemoryRepository_GetUnknownErrors(t *testing.T) {
	repo := NewInMemoryRepository()
	_, err := repo.Get(context.Background(), "missing", "1.0.0")
	assert.Error(t, err)
}

func TestRepositoryLoader_AdaptsToLoaderShape(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, "greet", "2.0.0", "source text"))

	loader := RepositoryLoader{Repo: repo, Ctx: ctx}
	src, err := loader.Load("greet", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "source text", src)
}

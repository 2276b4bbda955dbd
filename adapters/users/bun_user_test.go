package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/vaultgate/core"
)

const testAddress = "0x9F2dF0FeD2C77648DE5860A4Cc508cd0818C85b8"

func newTestRepository(t *testing.T) *BunUserRepository {
	t.Helper()

	db, err := OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewBunUserRepository(context.Background(), db)
	require.NoError(t, err)
	return repo
}

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	first, created, err := repo.FindOrCreate(ctx, testAddress)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)
	assert.Equal(t, "0x9f2df0fed2c77648de5860a4cc508cd0818c85b8", first.Address)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Empty(t, first.Email)
	assert.False(t, first.EmailVerified())

	second, created, err := repo.FindOrCreate(ctx, "0x9f2df0fed2c77648de5860a4cc508cd0818c85b8")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestFindOrCreateConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	const workers = 16
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			usr, _, err := repo.FindOrCreate(ctx, testAddress)
			ids[i], errs[i] = usr.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	count, err := repo.db.NewSelect().Model((*user)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetByAddressNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetByAddress(context.Background(), testAddress)
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, _, err := repo.FindOrCreate(ctx, testAddress)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, testAddress))

	_, err = repo.GetByAddress(ctx, testAddress)
	assert.ErrorIs(t, err, core.ErrUserNotFound)
}

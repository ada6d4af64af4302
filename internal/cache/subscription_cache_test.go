package cache

import (
	"context"
	"testing"
	"time"

	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type countingRepo struct {
	subscriptiondomain.Repository
	calls  int
	reads  int
	apiKey string
	status subscriptiondomain.Status
}

func newCountingRepo() *countingRepo {
	return &countingRepo{apiKey: "key-1", status: subscriptiondomain.StatusActive}
}

func (r *countingRepo) row() *subscriptiondomain.Subscription {
	return &subscriptiondomain.Subscription{ID: snowflake.ID(5), APIKey: r.apiKey, Status: r.status}
}

func (r *countingRepo) GetByAPIKey(ctx context.Context, conn *gorm.DB, apiKey string) (*subscriptiondomain.Subscription, error) {
	r.calls++
	if apiKey != r.apiKey {
		return nil, subscriptiondomain.ErrInvalidAPIKey
	}
	return r.row(), nil
}

func (r *countingRepo) Get(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	r.reads++
	if id != snowflake.ID(5) {
		return nil, subscriptiondomain.ErrNotFound
	}
	return r.row(), nil
}

func newCache(t *testing.T, repo subscriptiondomain.Repository) *SubscriptionCache {
	t.Helper()
	c, err := NewSubscriptionCache(repo, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSubscriptionCacheServesRepeatLookups(t *testing.T) {
	repo := newCountingRepo()
	c := newCache(t, repo)
	ctx := context.Background()

	sub, err := c.GetByAPIKey(ctx, nil, "key-1")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(5), sub.ID)
	c.Wait()

	sub, err = c.GetByAPIKey(ctx, nil, " key-1 ")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(5), sub.ID)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, 1, repo.reads)

	c.Invalidate("key-1")
	_, err = c.GetByAPIKey(ctx, nil, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestSubscriptionCacheSkipsFailures(t *testing.T) {
	repo := newCountingRepo()
	c := newCache(t, repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.GetByAPIKey(ctx, nil, "unknown")
		require.ErrorIs(t, err, subscriptiondomain.ErrInvalidAPIKey)
		c.Wait()
	}
	assert.Equal(t, 2, repo.calls)
}

func TestSubscriptionCacheReadsCurrentStatus(t *testing.T) {
	repo := newCountingRepo()
	c := newCache(t, repo)
	ctx := context.Background()

	sub, err := c.GetByAPIKey(ctx, nil, "key-1")
	require.NoError(t, err)
	require.True(t, sub.Usable())
	c.Wait()

	repo.status = subscriptiondomain.StatusCancelled
	sub, err = c.GetByAPIKey(ctx, nil, "key-1")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, sub.Status)
	assert.False(t, sub.Usable())
	assert.Equal(t, 1, repo.calls)
}

func TestSubscriptionCacheDropsRotatedKey(t *testing.T) {
	repo := newCountingRepo()
	c := newCache(t, repo)
	ctx := context.Background()

	_, err := c.GetByAPIKey(ctx, nil, "key-1")
	require.NoError(t, err)
	c.Wait()

	repo.apiKey = "key-2"
	_, err = c.GetByAPIKey(ctx, nil, "key-1")
	require.ErrorIs(t, err, subscriptiondomain.ErrInvalidAPIKey)
	assert.Equal(t, 2, repo.calls)
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/dgraph-io/ristretto/v2"
	"gorm.io/gorm"
)

const (
	defaultSubscriptionTTL = 45 * time.Second
	maxCachedSubscriptions = 10_000
)

// SubscriptionCache memoizes the API key to subscription id mapping for the
// client endpoints, which resolve the key on every device launch. A hit still
// reads the subscription row by primary key, so status and plan are always
// current. Only successful lookups are cached and every other repository call
// passes through.
type SubscriptionCache struct {
	subscriptiondomain.Repository
	byAPIKey *ristretto.Cache[string, snowflake.ID]
	ttl      time.Duration
}

func NewSubscriptionCache(repo subscriptiondomain.Repository, ttl time.Duration) (*SubscriptionCache, error) {
	if ttl <= 0 {
		ttl = defaultSubscriptionTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, snowflake.ID]{
		NumCounters:        maxCachedSubscriptions * 10,
		MaxCost:            maxCachedSubscriptions,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription cache: %w", err)
	}
	return &SubscriptionCache{Repository: repo, byAPIKey: c, ttl: ttl}, nil
}

func (c *SubscriptionCache) GetByAPIKey(ctx context.Context, conn *gorm.DB, apiKey string) (*subscriptiondomain.Subscription, error) {
	key := cacheKey(apiKey)
	if key != "" {
		if id, ok := c.byAPIKey.Get(key); ok {
			sub, err := c.Repository.Get(ctx, conn, id)
			switch {
			case err == nil && cacheKey(sub.APIKey) == key:
				return sub, nil
			case err == nil, errors.Is(err, subscriptiondomain.ErrNotFound):
				// key rotated or row removed
				c.byAPIKey.Del(key)
			default:
				return nil, err
			}
		}
	}

	sub, err := c.Repository.GetByAPIKey(ctx, conn, apiKey)
	if err != nil {
		return nil, err
	}
	if key != "" && sub != nil && sub.ID != 0 {
		c.byAPIKey.SetWithTTL(key, sub.ID, 1, c.ttl)
	}
	return sub, nil
}

// Invalidate drops the cached lookup for apiKey.
func (c *SubscriptionCache) Invalidate(apiKey string) {
	c.byAPIKey.Del(cacheKey(apiKey))
}

// Wait blocks until buffered writes are visible to Get.
func (c *SubscriptionCache) Wait() {
	c.byAPIKey.Wait()
}

func (c *SubscriptionCache) Close() {
	c.byAPIKey.Close()
}

func cacheKey(apiKey string) string {
	return strings.TrimSpace(apiKey)
}

package identity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// lookupResult is cached for both hits and misses so unknown ids do not hit
// the database again within the TTL.
type lookupResult struct {
	id    int64
	found bool
}

// CachedResolver fronts a Repository with a TTL cache.
type CachedResolver struct {
	repo   Repository
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCachedResolver caches lookups for ttl. A non-positive ttl keeps entries
// for the lifetime of the process.
func NewCachedResolver(repo Repository, ttl time.Duration, logger zerolog.Logger) *CachedResolver {
	expiration, cleanup := ttl, ttl*2
	if ttl <= 0 {
		expiration, cleanup = cache.NoExpiration, 0
	}
	return &CachedResolver{
		repo:   repo,
		cache:  cache.New(expiration, cleanup),
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

func (r *CachedResolver) LocalPatientID(ctx context.Context, externalID string) (int64, bool, error) {
	return r.resolve(ctx, "patient:"+externalID, func(ctx context.Context) (int64, bool, error) {
		return r.repo.PatientIDByExternalID(ctx, externalID)
	})
}

func (r *CachedResolver) LocalAuthorID(ctx context.Context, externalAccountID string) (int64, bool, error) {
	return r.resolve(ctx, "author:"+externalAccountID, func(ctx context.Context) (int64, bool, error) {
		return r.repo.UserIDByAccountID(ctx, externalAccountID)
	})
}

func (r *CachedResolver) resolve(ctx context.Context, key string, load func(context.Context) (int64, bool, error)) (int64, bool, error) {
	if v, ok := r.cache.Get(key); ok {
		res := v.(lookupResult)
		return res.id, res.found, nil
	}

	id, found, err := load(ctx)
	if err != nil {
		return 0, false, err
	}
	if !found {
		r.logger.Debug().Str("key", key).Msg("no local match")
	}
	r.cache.Set(key, lookupResult{id: id, found: found}, cache.DefaultExpiration)
	return id, found, nil
}

// Flush drops every cached lookup.
func (r *CachedResolver) Flush() {
	r.cache.Flush()
}

// Len returns the number of cached lookups.
func (r *CachedResolver) Len() int {
	return r.cache.ItemCount()
}

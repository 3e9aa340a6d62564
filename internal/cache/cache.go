package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Tier is a bitmask selecting which stores a value lives in.
type Tier uint8

const (
	TierLocal Tier = 1 << iota
	TierRemote

	TierAll = TierLocal | TierRemote
)

func (t Tier) Has(o Tier) bool { return t&o != 0 }

// Remote is the shared key/value tier.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Submitter runs a detached write. jobs.Runner satisfies it.
type Submitter interface {
	Go(name string, fn func(ctx context.Context) error)
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a two-tier store with request coalescing. Values are stored as
// JSON. A nil Cache is not usable; a Cache without a Remote degrades to
// the local tier only.
type Cache struct {
	local  *lru.Cache[string, entry]
	remote Remote
	submit Submitter
	group  singleflight.Group
	now    func() time.Time
	logger *log.Logger
}

type Options struct {
	// LocalSize bounds the in-process tier (default: 2000 entries).
	LocalSize int
	Remote    Remote
	// Submitter runs remote writes. When nil they run on a bare goroutine.
	Submitter Submitter
	Logger    *log.Logger
}

func New(opts Options) (*Cache, error) {
	if opts.LocalSize <= 0 {
		opts.LocalSize = 2000
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	local, err := lru.New[string, entry](opts.LocalSize)
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	c := &Cache{
		local:  local,
		remote: opts.Remote,
		submit: opts.Submitter,
		now:    time.Now,
		logger: opts.Logger,
	}
	if c.submit == nil {
		c.submit = goSubmitter{}
	}
	return c, nil
}

// Get looks up key in local then remote. A remote hit is not copied into
// the local tier. Backend errors and undecodable payloads count as a miss.
func (c *Cache) Get(ctx context.Context, key string, tiers Tier, target any) bool {
	if tiers.Has(TierLocal) {
		if e, ok := c.local.Get(key); ok {
			if c.now().Before(e.expiresAt) {
				if err := json.Unmarshal(e.data, target); err == nil {
					return true
				}
			}
			c.local.Remove(key)
		}
	}

	if tiers.Has(TierRemote) && c.remote != nil {
		data, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			c.logger.Printf("[cache] remote get %s: %v", key, err)
			return false
		}
		if !ok {
			return false
		}
		if err := json.Unmarshal(data, target); err != nil {
			c.logger.Printf("[cache] malformed remote value for %s: %v", key, err)
			return false
		}
		return true
	}
	return false
}

// Set stores value in the requested tiers. The local write is immediate;
// the remote write is handed to the submitter and its failure only logged.
func (c *Cache) Set(key string, value any, ttl time.Duration, tiers Tier) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Printf("[cache] encode %s: %v", key, err)
		return
	}
	if tiers.Has(TierLocal) {
		c.local.Add(key, entry{data: data, expiresAt: c.now().Add(ttl)})
	}
	if tiers.Has(TierRemote) && c.remote != nil {
		c.submit.Go("cache:set "+key, func(ctx context.Context) error {
			if err := c.remote.Set(ctx, key, data, ttl); err != nil {
				c.logger.Printf("[cache] remote set %s: %v", key, err)
				return err
			}
			return nil
		})
	}
}

// Dedup coalesces concurrent calls for the same key into one execution of
// fn. The key is released once fn completes, success or failure.
func (c *Cache) Dedup(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}

// Fetch returns the cached value for key or produces, stores and returns a
// fresh one. Producer errors are returned as-is and nothing is stored.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, tiers Tier, produce func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if c.Get(ctx, key, tiers, &out) {
		return out, nil
	}

	v, err := c.Dedup(key, func() (any, error) {
		fresh, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, fresh, ttl, tiers)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

type goSubmitter struct{}

func (goSubmitter) Go(_ string, fn func(ctx context.Context) error) {
	go func() { _ = fn(context.Background()) }()
}

package eventmapping

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruleengine/controlplane/internal/platform"
)

// Provider serves published event mappings keyed by
// (licenseKey, version, cloud) with two cache tiers: an in-process map for
// the hot path, and redis so API replicas share fetches across processes.
type Provider struct {
	s3     *platform.S3Client
	rdb    *redis.Client
	bucket string

	mu    sync.RWMutex
	cache map[string]Mapping
}

// redisTTL bounds staleness of the shared cache tier; a metadata refresh
// publishes under the same key, so the window only delays rule additions.
const redisTTL = 15 * time.Minute

// NewProvider creates a Provider. rdb may be nil to disable the shared tier.
func NewProvider(s3 *platform.S3Client, rdb *redis.Client, bucket string) *Provider {
	return &Provider{
		s3:     s3,
		rdb:    rdb,
		bucket: bucket,
		cache:  make(map[string]Mapping),
	}
}

// Get returns the mapping for (licenseKey, version, cloud), or nil when it
// was never published.
func (p *Provider) Get(ctx context.Context, licenseKey, version, cloud string) (Mapping, error) {
	if _, ok := mappedClouds[cloud]; !ok {
		return nil, nil
	}
	key := Key(licenseKey, version, cloud)

	p.mu.RLock()
	m, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return m, nil
	}

	if p.rdb != nil {
		data, err := p.rdb.Get(ctx, "ruleengine:eventmapping:"+key).Bytes()
		if err == nil {
			var m Mapping
			if err := json.Unmarshal(data, &m); err == nil {
				p.memoize(key, m)
				return m, nil
			}
		}
	}

	var fetched Mapping
	ok, err := p.s3.GzGetJSON(ctx, p.bucket, key, &fetched)
	if err != nil {
		return nil, fmt.Errorf("fetching event mapping %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	p.memoize(key, fetched)
	if p.rdb != nil {
		if data, err := json.Marshal(fetched); err == nil {
			p.rdb.Set(ctx, "ruleengine:eventmapping:"+key, data, redisTTL)
		}
	}
	return fetched, nil
}

func (p *Provider) memoize(key string, m Mapping) {
	p.mu.Lock()
	p.cache[key] = m
	p.mu.Unlock()
}

// Invalidate drops the cached mapping for (licenseKey, version) across all
// clouds. No license refresh path in this repository calls it.
func (p *Provider) Invalidate(ctx context.Context, licenseKey, version string) {
	p.mu.Lock()
	for cloud := range mappedClouds {
		delete(p.cache, Key(licenseKey, version, cloud))
	}
	p.mu.Unlock()
	if p.rdb != nil {
		for cloud := range mappedClouds {
			p.rdb.Del(ctx, "ruleengine:eventmapping:"+Key(licenseKey, version, cloud))
		}
	}
}

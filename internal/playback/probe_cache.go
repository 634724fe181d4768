package playback

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/chipstream-io/chipstream/internal/errors"
)

// probeCache memoizes availability probe results per adapter id so repeated
// Load calls do not hammer slow probes (device enumeration can take tens of
// milliseconds on some hosts). A nil cache means probing is uncached.
type probeCache struct {
	cache *gocache.Cache
}

// probeResult is what gets cached. Errors are stored as strings because the
// cached value only feeds the aggregate unavailability report.
type probeResult struct {
	available bool
	reason    string
}

func newProbeCache(ttl time.Duration) *probeCache {
	if ttl <= 0 {
		return &probeCache{}
	}
	return &probeCache{cache: gocache.New(ttl, 2*ttl)}
}

// check runs the descriptor's availability probe, consulting the cache
// first. Returns nil when the adapter is usable.
func (pc *probeCache) check(d Descriptor, rc RuntimeContext) error {
	if pc.cache != nil {
		if v, found := pc.cache.Get(d.ID); found {
			res := v.(probeResult)
			if res.available {
				return nil
			}
			return errors.NewStd(res.reason)
		}
	}

	err := d.Available(rc)
	if pc.cache != nil {
		res := probeResult{available: err == nil}
		if err != nil {
			res.reason = err.Error()
		}
		pc.cache.SetDefault(d.ID, res)
	}
	return err
}

// invalidate drops a cached probe result, forcing the next check to probe.
func (pc *probeCache) invalidate(id string) {
	if pc.cache != nil {
		pc.cache.Delete(id)
	}
}

// Package source decides where chapter content is loaded from. Tiers are
// tried from fastest to slowest, anything but the last one may fail silently.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"lectern/backend"
	"lectern/catalog"
	"lectern/config"
	"lectern/preload"
	"lectern/render"
)

// ErrNoSource is returned when chapter does not have primary source.
var ErrNoSource = errors.New("chapter has no source")

// Resolved is chapter content ready to be handed to renderer.
type Resolved struct {
	Tier    Tier
	Payload []byte
	URI     string
}

// Source converts result to renderer input.
func (r Resolved) Source() render.Source {
	return render.Source{Payload: r.Payload, URI: r.URI}
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cache  preload.Service
	merger backend.Merger
	cfg    config.ResolverConfig
	log    *zap.Logger

	wg sync.WaitGroup
}

// New returns resolver. merger may be nil, merge tier is skipped then.
func New(cache preload.Service, merger backend.Merger, cfg *config.ResolverConfig, log *zap.Logger) *Resolver {
	return &Resolver{
		cache:  cache,
		merger: merger,
		cfg:    *cfg,
		log:    log.Named("source"),
	}
}

// Resolve walks tiers until one produces content. Only failure of the raw
// tier or ctx cancellation is reported.
func (r *Resolver) Resolve(ctx context.Context, ch catalog.Chapter) (Resolved, error) {
	for tier := TierCached; ; {
		res, ok, err := r.attempt(ctx, tier, ch)
		if err != nil {
			return Resolved{}, err
		}
		if ok {
			r.log.Debug("Source resolved", zap.String("chapter", ch.ID), zap.Stringer("tier", tier))
			return res, nil
		}
		next, more := tier.Next()
		if !more {
			return Resolved{}, fmt.Errorf("%s: %w", ch.ID, ErrNoSource)
		}
		tier = next
	}
}

// Raw returns last resort source.
func (r *Resolver) Raw(ch catalog.Chapter) (Resolved, error) {
	if len(ch.Source) == 0 {
		return Resolved{}, fmt.Errorf("%s: %w", ch.ID, ErrNoSource)
	}
	return Resolved{Tier: TierRaw, URI: ch.Source}, nil
}

// Wait blocks until background persist calls are finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) attempt(ctx context.Context, tier Tier, ch catalog.Chapter) (Resolved, bool, error) {
	if err := ctx.Err(); err != nil {
		return Resolved{}, false, err
	}
	switch tier {
	case TierCached:
		return r.cached(ctx, ch)
	case TierInflight:
		return r.inflight(ctx, ch)
	case TierPremerged:
		return r.premerged(ch)
	case TierMerged:
		return r.merged(ctx, ch)
	default:
		res, err := r.Raw(ch)
		return res, err == nil, err
	}
}

func (r *Resolver) cached(ctx context.Context, ch catalog.Chapter) (Resolved, bool, error) {
	if !r.cache.IsCached(ch.ID) {
		return Resolved{}, false, nil
	}
	data, err := r.cache.Request(ctx, ch.ID, ch.Source)
	if err != nil {
		if ctx.Err() != nil {
			return Resolved{}, false, ctx.Err()
		}
		return Resolved{}, false, nil
	}
	return Resolved{Tier: TierCached, Payload: data, URI: ch.Source}, true, nil
}

func (r *Resolver) inflight(ctx context.Context, ch catalog.Chapter) (Resolved, bool, error) {
	if !r.cache.IsPending(ch.ID) {
		return Resolved{}, false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, r.cfg.InflightWait)
	defer cancel()

	data, err := r.cache.Request(wctx, ch.ID, ch.Source)
	if err != nil {
		if ctx.Err() != nil {
			return Resolved{}, false, ctx.Err()
		}
		r.log.Debug("Gave up waiting for preload", zap.String("chapter", ch.ID), zap.Error(err))
		return Resolved{}, false, nil
	}
	return Resolved{Tier: TierInflight, Payload: data, URI: ch.Source}, true, nil
}

func (r *Resolver) premerged(ch catalog.Chapter) (Resolved, bool, error) {
	if len(ch.Merged) == 0 {
		return Resolved{}, false, nil
	}
	return Resolved{Tier: TierPremerged, URI: ch.Merged}, true, nil
}

func (r *Resolver) merged(ctx context.Context, ch catalog.Chapter) (Resolved, bool, error) {
	if r.merger == nil || len(ch.Metadata) == 0 {
		return Resolved{}, false, nil
	}

	mctx, cancel := context.WithTimeout(ctx, r.cfg.MergeBudget)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		data, err := r.merger.Merge(mctx, ch)
		done <- result{data, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return Resolved{}, false, ctx.Err()
			}
			r.log.Warn("Merge failed", zap.String("chapter", ch.ID), zap.Error(res.err))
			return Resolved{}, false, nil
		}
		r.log.Debug("Merged", zap.String("chapter", ch.ID), zap.Duration("elapsed", time.Since(start)))
		r.persist(ch, res.data)
		return Resolved{Tier: TierMerged, Payload: res.data}, true, nil
	case <-mctx.Done():
		if ctx.Err() != nil {
			return Resolved{}, false, ctx.Err()
		}
		r.log.Warn("Merge exceeded budget", zap.String("chapter", ch.ID), zap.Duration("budget", r.cfg.MergeBudget))
		return Resolved{}, false, nil
	}
}

// persist stores merged payload upstream without holding anybody up, failures are only logged.
func (r *Resolver) persist(ch catalog.Chapter, data []byte) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
		defer cancel()

		err := retry.Do(
			func() error {
				return r.merger.PersistMerged(ctx, ch, data)
			},
			retry.Context(ctx),
			retry.Attempts(r.cfg.PersistAttempts),
			retry.Delay(r.cfg.PersistDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				r.log.Debug("Persist failed, retrying", zap.String("chapter", ch.ID), zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)
		if err != nil {
			r.log.Warn("Unable to persist merged package", zap.String("chapter", ch.ID), zap.Error(err))
		}
	}()
}

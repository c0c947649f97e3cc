package commands

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lectern/catalog"
	"lectern/state"
)

// Preload fetches chapter payloads into the cache, all catalog chapters when
// none were named.
func Preload(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("preload")

	path := cmd.Args().Get(0)
	if len(path) == 0 {
		return errors.New("no catalog has been specified")
	}
	return preload(ctx, env, path, cmd.Args().Slice()[1:], int(cmd.Int("jobs")), log)
}

func preload(ctx context.Context, env *state.LocalEnv, path string, ids []string, jobs int, log *zap.Logger) error {
	cat, err := catalog.Load(path, env.Log)
	if err != nil {
		return err
	}

	var chapters []catalog.Chapter
	if len(ids) == 0 {
		chapters = cat.Chapters()
	} else {
		for _, id := range ids {
			ch, err := cat.Chapter(id)
			if err != nil {
				return err
			}
			chapters = append(chapters, ch)
		}
	}

	log.Info("Processing starting", zap.String("catalog", path), zap.Int("chapters", len(chapters)))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}

	var failed atomic.Int32
	for _, ch := range chapters {
		if len(ch.Source) == 0 {
			log.Debug("Chapter has no source, skipping", zap.String("chapter", ch.ID))
			continue
		}
		g.Go(func() error {
			data, err := env.Cache.Request(gctx, ch.ID, ch.Source)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				log.Warn("Unable to preload chapter", zap.String("chapter", ch.ID), zap.Error(err))
				return nil
			}
			log.Info("Chapter preloaded", zap.String("chapter", ch.ID), zap.Int("size", len(data)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("unable to preload %d of %d chapters", n, len(chapters))
	}
	log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

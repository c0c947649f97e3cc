package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"lectern/catalog"
	"lectern/state"
)

// Merge combines chapter package with its metadata and persists result, so
// subsequent opens use premerged package.
func Merge(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("merge")

	path, id := cmd.Args().Get(0), cmd.Args().Get(1)
	if len(path) == 0 {
		return errors.New("no catalog has been specified")
	}
	if len(id) == 0 {
		return errors.New("no chapter has been specified")
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	return merge(ctx, env, path, id, log)
}

func merge(ctx context.Context, env *state.LocalEnv, path, id string, log *zap.Logger) error {
	cat, err := catalog.Load(path, env.Log)
	if err != nil {
		return err
	}
	ch, err := cat.Chapter(id)
	if err != nil {
		return err
	}
	if len(ch.Source) == 0 || len(ch.Metadata) == 0 {
		return fmt.Errorf("chapter %q has nothing to merge", id)
	}

	merger, err := newMerger(env, cat, env.Log)
	if err != nil {
		return err
	}

	log.Info("Processing starting", zap.String("chapter", id), zap.String("source", ch.Source), zap.String("metadata", ch.Metadata))
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, env.Cfg.Backend.Timeout)
	defer cancel()

	data, err := merger.Merge(ctx, ch)
	if err != nil {
		return fmt.Errorf("unable to merge chapter %q: %w", id, err)
	}
	if err := merger.PersistMerged(ctx, ch, data); err != nil {
		return fmt.Errorf("unable to persist merged chapter %q: %w", id, err)
	}

	if ch, err = cat.Chapter(id); err == nil {
		log.Info("Processing completed", zap.String("merged", ch.Merged), zap.Int("size", len(data)), zap.Duration("elapsed", time.Since(start)))
	}
	return nil
}

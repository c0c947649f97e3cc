package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"lectern/annotate"
	"lectern/common"
	"lectern/config"
	"lectern/poll"
	"lectern/reader"
	"lectern/render/epubview"
	"lectern/state"
)

// containerID names the single headless container read command renders into.
const containerID = "lectern"

type readOptions struct {
	catalog     string
	chapter     string
	pages       int
	width       float64
	height      float64
	layoutDelay time.Duration
	theme       string
	fontSize    int
	click       string
}

// Read opens chapter in headless view and prints visible text page by page.
func Read(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("read")

	opts := readOptions{
		catalog:     cmd.Args().Get(0),
		chapter:     cmd.Args().Get(1),
		pages:       int(cmd.Int("pages")),
		width:       cmd.Float("width"),
		height:      cmd.Float("height"),
		layoutDelay: cmd.Duration("layout-delay"),
		theme:       cmd.String("theme"),
		fontSize:    int(cmd.Int("font-size")),
		click:       cmd.String("click"),
	}
	if len(opts.catalog) == 0 {
		return errors.New("no catalog has been specified")
	}
	if len(opts.chapter) == 0 {
		return errors.New("no chapter has been specified")
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	if device := cmd.String("device"); len(device) > 0 {
		d, err := common.ParseDeviceClass(device)
		if err != nil {
			return err
		}
		env.Cfg.Engine.Device = d
	}
	return read(ctx, env, opts, os.Stdout, log)
}

func read(ctx context.Context, env *state.LocalEnv, opts readOptions, out io.Writer, log *zap.Logger) (err error) {
	log.Info("Processing starting", zap.String("catalog", opts.catalog), zap.String("chapter", opts.chapter))
	defer func(start time.Time) {
		if err == nil {
			log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
		}
	}(time.Now())

	eng, err := newEngine(env, opts.catalog, env.Log)
	if err != nil {
		return err
	}
	defer eng.close()

	ch, err := eng.catalog.Chapter(opts.chapter)
	if err != nil {
		return err
	}

	container := epubview.NewHeadless(containerID, 0, 0)
	if opts.layoutDelay > 0 {
		// simulates host which lays page out after view was asked to open
		t := time.AfterFunc(opts.layoutDelay, func() { container.SetBox(opts.width, opts.height) })
		defer t.Stop()
	} else {
		container.SetBox(opts.width, opts.height)
	}

	popup := &logPopup{notes: make(map[string]string), log: log}
	for _, a := range ch.Annotations {
		popup.notes[a.ID] = a.Note
	}

	view := reader.New(container, reader.Deps{
		Catalog:  eng.catalog,
		Cache:    env.Cache,
		Sources:  eng.sources,
		Sessions: eng.sessions,
		Store:    env.Store,
		Popup:    popup,
	}, &env.Cfg.Engine, env.Log)
	defer func() {
		err = multierr.Append(err, view.Close())
	}()

	if len(opts.theme) > 0 {
		if err := view.SetTheme(opts.theme); err != nil {
			return err
		}
	}
	if opts.fontSize > 0 {
		if err := view.SetFontSize(opts.fontSize); err != nil {
			return err
		}
	}

	if err := view.Open(ctx, ch.ID); err != nil {
		return err
	}
	if err := view.Wait(ctx); err != nil {
		if msg := reader.Message(err); len(msg) > 0 {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}

	if err := writePage(env, out, ch.ID, 1, container.Visible()); err != nil {
		return err
	}

	if len(opts.click) > 0 {
		if err := click(eng, container, opts.click, log); err != nil {
			return err
		}
	}

	// page turns closer than cooldown are swallowed
	pause := env.Cfg.Engine.Navigation.Cooldown + env.Cfg.Engine.Viewport.FrameInterval
	for page := 2; page <= opts.pages; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
		turned, err := view.Next(ctx)
		if err != nil {
			return err
		}
		if !turned {
			log.Debug("Page turn ignored", zap.Int("page", page))
			continue
		}
		if err := writePage(env, out, ch.ID, page, container.Visible()); err != nil {
			return err
		}
	}

	// location index is generated in background once view becomes ready
	cfg := env.Cfg.Engine.Progress
	if err := poll.Until(ctx, cfg.Debounce, 100, func() bool {
		_, ok := view.Progress()
		return ok
	}); err != nil {
		log.Warn("Reading progress is not available", zap.Error(err))
		return nil
	}
	percent, _ := view.Progress()
	log.Info("Reading progress", zap.String("chapter", ch.ID), zap.Int("percent", percent))
	return nil
}

func writePage(env *state.LocalEnv, out io.Writer, id string, page int, text string) error {
	env.Rpt.StoreData(fmt.Sprintf("pages/%s-%03d.txt", config.CleanFileName(id), page), []byte(text))
	if _, err := fmt.Fprintf(out, "[%s:%d]\n%s\n", id, page, text); err != nil {
		return fmt.Errorf("unable to write page: %w", err)
	}
	return nil
}

// click delivers click on the decorated annotation showing word.
func click(eng *engine, container *epubview.Headless, word string, log *zap.Logger) error {
	target := findAnnotation(container.Document(), word)
	if target == nil {
		log.Warn("No visible annotation for word", zap.String("word", word))
		return nil
	}
	sess, ok := eng.sessions.Live(container.ID())
	if !ok {
		return errors.New("no live session for container")
	}
	v, ok := sess.Renderer.(*epubview.View)
	if !ok {
		return fmt.Errorf("unexpected renderer %T", sess.Renderer)
	}
	if !v.Click(target) {
		log.Warn("Click was not handled", zap.String("word", word))
	}
	return nil
}

func findAnnotation(n *html.Node, word string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && hasAttr(n, annotate.AttrID) && strings.EqualFold(nodeText(n), word) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAnnotation(c, word); found != nil {
			return found
		}
	}
	return nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// logPopup reports opened annotations to the log.
type logPopup struct {
	notes map[string]string
	log   *zap.Logger
}

func (p *logPopup) Open(id string) {
	p.log.Info("Annotation", zap.String("id", id), zap.String("note", p.notes[id]))
}

// Package document provides the read-only document handle strategies are
// evaluated against.
//
// A Context owns a parsed view (goquery) of a caller-owned source. The
// engine never writes to the source; it only refreshes its own view when
// waiting for the page to settle.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pinpoint/simhash"
)

// ErrUnsupported is returned by optional diagnostics the source cannot provide.
var ErrUnsupported = errors.New("document: operation not supported by source")

// ErrInvalid is returned once the owning session has ended.
var ErrInvalid = errors.New("document: context is no longer valid")

// Source is the live tree a Context reads from.
type Source interface {
	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)
	// URL returns the document location, or "" when unknown.
	URL() string
}

// Stabilizer is implemented by sources that can wait for their own DOM to
// settle more precisely than fingerprint polling.
type Stabilizer interface {
	WaitStable(ctx context.Context, quiet time.Duration) error
}

// Screenshotter is implemented by sources that can capture a visual image.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// ConsoleSource is implemented by sources that collect console output.
type ConsoleSource interface {
	ConsoleLines() []string
}

// Options tune the fingerprint polling used by Stabilize.
type Options struct {
	// PollInterval is the delay between two HTML reads.
	PollInterval time.Duration
	// StableDistance is the maximum Hamming distance between two
	// consecutive structural fingerprints for the tree to count as stable.
	StableDistance int
	// Quiet is passed to Stabilizer sources.
	Quiet time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.StableDistance < 0 {
		o.StableDistance = 0
	}
	if o.StableDistance == 0 {
		o.StableDistance = 3
	}
	if o.Quiet <= 0 {
		o.Quiet = 300 * time.Millisecond
	}
}

// Context is a borrowed handle to a live document tree.
// It is safe for concurrent use by multiple resolutions.
type Context struct {
	scopeID string
	source  Source
	static  bool
	opts    Options

	mu         sync.RWMutex
	doc        *goquery.Document
	html       string
	capturedAt time.Time

	invalid   atomic.Bool
	settledAt atomic.Int64
}

type staticSource struct {
	html string
}

func (s staticSource) HTML(context.Context) (string, error) { return s.html, nil }
func (s staticSource) URL() string                          { return "" }

// FromHTML builds a Context over a fixed document. Stabilize is a no-op.
func FromHTML(rawHTML, scopeID string) (*Context, error) {
	c := &Context{scopeID: scopeID, source: staticSource{html: rawHTML}, static: true}
	c.opts.defaults()
	if err := c.load(rawHTML); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a Context over a live source, reading its current HTML.
func New(ctx context.Context, src Source, scopeID string, opts Options) (*Context, error) {
	if src == nil {
		return nil, errors.New("document: nil source")
	}
	opts.defaults()
	c := &Context{scopeID: scopeID, source: src, opts: opts}
	raw, err := src.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("document: read source: %w", err)
	}
	if err := c.load(raw); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) load(raw string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return fmt.Errorf("document: parse: %w", err)
	}
	c.mu.Lock()
	c.doc = doc
	c.html = raw
	c.capturedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// ScopeID labels the context in results and snapshots.
func (c *Context) ScopeID() string { return c.scopeID }

// URL returns the source location, if known.
func (c *Context) URL() string { return c.source.URL() }

// CapturedAt is when the current view was read from the source.
func (c *Context) CapturedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capturedAt
}

// Valid reports whether the owning session is still alive.
func (c *Context) Valid() bool { return !c.invalid.Load() }

// Invalidate is called by the owner when its session ends.
func (c *Context) Invalidate() { c.invalid.Store(true) }

// Document returns the current parsed view. Callers must treat it as
// read-only.
func (c *Context) Document() *goquery.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

// HTML returns the serialized document the current view was parsed from.
func (c *Context) HTML() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.html
}

// Root returns the search root for a selector scope: the whole document
// when scope is empty, otherwise every node matching the scope selector.
func (c *Context) Root(scope string) *goquery.Selection {
	doc := c.Document()
	if scope == "" {
		return doc.Selection
	}
	return doc.Find(scope)
}

// Stabilize waits up to maxWait for the source to stop changing and
// refreshes the view. Running out of time is not an error: the latest view
// is kept. Cancellation of ctx is returned as ctx.Err().
func (c *Context) Stabilize(ctx context.Context, maxWait time.Duration) error {
	if !c.Valid() {
		return ErrInvalid
	}
	if c.static || maxWait <= 0 {
		return ctx.Err()
	}

	if c.recentlySettled() {
		return ctx.Err()
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if st, ok := c.source.(Stabilizer); ok {
		if err := st.WaitStable(waitCtx, quietFor(c.opts.Quiet, maxWait)); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.refresh(ctx); err != nil {
			return err
		}
		c.markSettled()
		return nil
	}

	prev := simhash.FingerprintHTML(c.HTML())
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("document did not settle, keeping latest view",
				"scope", c.scopeID, "maxWait", maxWait)
			return nil
		case <-ticker.C:
			raw, err := c.source.HTML(waitCtx)
			if err != nil {
				continue
			}
			next := simhash.FingerprintHTML(raw)
			if loadErr := c.load(raw); loadErr != nil {
				return loadErr
			}
			if simhash.Similar(prev, next, c.opts.StableDistance) {
				c.markSettled()
				return nil
			}
			prev = next
		}
	}
}

// quietFor keeps the quiet period short enough for at least one
// comparison to complete inside maxWait.
func quietFor(quiet, maxWait time.Duration) time.Duration {
	if limit := maxWait / 2; quiet > limit {
		return limit
	}
	return quiet
}

// recentlySettled reports whether a previous wait settled the view less
// than one quiet period ago.
func (c *Context) recentlySettled() bool {
	at := c.settledAt.Load()
	return at != 0 && time.Since(time.Unix(0, at)) < c.opts.Quiet
}

func (c *Context) markSettled() { c.settledAt.Store(time.Now().UnixNano()) }

func (c *Context) refresh(ctx context.Context) error {
	raw, err := c.source.HTML(ctx)
	if err != nil {
		return fmt.Errorf("document: refresh: %w", err)
	}
	return c.load(raw)
}

// Screenshot captures the source visually when supported.
func (c *Context) Screenshot(ctx context.Context) ([]byte, error) {
	if !c.Valid() {
		return nil, ErrInvalid
	}
	if s, ok := c.source.(Screenshotter); ok {
		return s.Screenshot(ctx)
	}
	return nil, ErrUnsupported
}

// ConsoleLines returns console output collected by the source, if any.
func (c *Context) ConsoleLines() []string {
	if s, ok := c.source.(ConsoleSource); ok {
		return s.ConsoleLines()
	}
	return nil
}

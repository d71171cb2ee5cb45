// Package snapshot writes diagnostic bundles for failed resolutions.
//
// A bundle is a directory holding the document as HTML and Markdown, a
// sanitized HTML copy for viewing, a screenshot when the source supports
// it, console output with recent engine logs, and a metadata.json that
// ties them together. Capture never reports errors to the resolver; they
// go to the log and to the completion callback.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/logring"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/telemetry"
)

// Bundle file names.
const (
	FileMetadata   = "metadata.json"
	FileHTML       = "document.html"
	FileMarkdown   = "document.md"
	FileView       = "document.view.html"
	FileScreenshot = "screenshot.png"
	FileConsole    = "console.log"
)

// ErrClosed is returned for captures requested after Close.
var ErrClosed = errors.New("snapshot: capturer is closed")

// Request describes the failure being captured.
type Request struct {
	SelectorID     string
	Site           string
	Module         string
	Operation      string
	FailureType    string
	ResolutionTime time.Duration
	Attempts       []models.AttemptOutcome
	FallbackUsed   bool
}

// Result reports where a bundle was written, or why it was not.
type Result struct {
	ID         string
	SelectorID string
	Dir        string
	Files      []string
	Err        error
}

// Metadata is the content of metadata.json.
type Metadata struct {
	SnapshotID          string                  `json:"snapshot_id"`
	SelectorID          string                  `json:"selector_id"`
	Operation           string                  `json:"operation"`
	FailureType         string                  `json:"failure_type"`
	CapturedAt          time.Time               `json:"captured_at"`
	ResolutionTimeMs    int64                   `json:"resolution_time_ms"`
	StrategiesAttempted []string                `json:"strategies_attempted"`
	FallbackUsed        bool                    `json:"fallback_used"`
	Attempts            []models.AttemptOutcome `json:"attempts,omitempty"`
	Context             ContextInfo             `json:"context"`
	Page                pageInfo                `json:"page"`
	Files               map[string]string       `json:"files"`
	Errors              []string                `json:"errors,omitempty"`
}

// ContextInfo describes the document the failure happened on.
type ContextInfo struct {
	ScopeID    string    `json:"scope_id"`
	URL        string    `json:"url,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Site       string    `json:"site,omitempty"`
	Module     string    `json:"module,omitempty"`
}

// job is a queued capture. The document HTML and console output are
// copied at enqueue time; doc is kept only for the screenshot.
type job struct {
	id      string
	req     Request
	doc     *document.Context
	html    string
	url     string
	scopeID string
	docAt   time.Time
	console []string
}

// Capturer writes snapshot bundles synchronously (Capture) or through a
// bounded, rate-limited worker pool (Enqueue).
type Capturer struct {
	cfg     config.SnapshotConfig
	conv    *converter.Converter
	view    *bluemonday.Policy
	ring    *logring.Ring
	metrics *telemetry.Metrics
	limiter *rate.Limiter
	onDone  func(Result)
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithLogRing adds an excerpt of ring to console.log.
func WithLogRing(r *logring.Ring) Option { return func(c *Capturer) { c.ring = r } }

// WithMetrics counts captures on m.
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Capturer) { c.metrics = m } }

// WithCallback registers fn for every finished queued capture.
func WithCallback(fn func(Result)) Option { return func(c *Capturer) { c.onDone = fn } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Capturer) { c.now = now } }

// NewCapturer creates a Capturer and starts its workers.
func NewCapturer(cfg config.SnapshotConfig, opts ...Option) *Capturer {
	if cfg.Root == "" {
		cfg.Root = "./snapshots"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Capturer{
		cfg:     cfg,
		conv:    newMarkdownConverter(),
		view:    newViewPolicy(),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     time.Now,
		queue:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

func (c *Capturer) newJob(doc *document.Context, req Request) job {
	j := job{id: uuid.NewString(), req: req, doc: doc}
	if doc != nil {
		j.html = doc.HTML()
		j.url = doc.URL()
		j.scopeID = doc.ScopeID()
		j.docAt = doc.CapturedAt()
		j.console = append([]string(nil), doc.ConsoleLines()...)
	}
	return j
}

// Enqueue schedules a capture and returns its id immediately. accepted
// is false when the queue is full or the capturer is closed; the caller
// is never blocked.
func (c *Capturer) Enqueue(doc *document.Context, req Request) (id string, accepted bool) {
	j := c.newJob(doc, req)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return j.id, false
	}
	select {
	case c.queue <- j:
		return j.id, true
	default:
		c.metrics.RecordSnapshot("dropped")
		slog.Warn("snapshot queue full, dropping capture",
			"selector", req.SelectorID,
			"snapshot_id", j.id,
		)
		return j.id, false
	}
}

// Capture writes a bundle synchronously, bounded by the configured budget.
func (c *Capturer) Capture(ctx context.Context, doc *document.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()
	res := c.write(ctx, c.newJob(doc, req))
	c.record(res)
	return res
}

func (c *Capturer) worker() {
	defer c.wg.Done()
	for j := range c.queue {
		res := c.run(j)
		c.record(res)
		if c.onDone != nil {
			c.onDone(res)
		}
	}
}

func (c *Capturer) run(j job) Result {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Budget)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{ID: j.id, SelectorID: j.req.SelectorID, Err: fmt.Errorf("snapshot: rate limit wait: %w", err)}
	}
	return c.write(ctx, j)
}

func (c *Capturer) record(res Result) {
	if res.Err != nil {
		c.metrics.RecordSnapshot("failed")
		slog.Warn("snapshot capture failed",
			"selector", res.SelectorID,
			"snapshot_id", res.ID,
			"dir", res.Dir,
			"error", res.Err,
		)
		return
	}
	c.metrics.RecordSnapshot("captured")
	slog.Info("snapshot captured",
		"selector", res.SelectorID,
		"snapshot_id", res.ID,
		"dir", res.Dir,
	)
}

// Close stops accepting work, waits for queued captures to finish and
// then cancels anything still waiting on the rate limiter.
func (c *Capturer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func pathPart(s, fallback string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "._")
	if s == "" {
		return fallback
	}
	return s
}

// Dir returns the bundle directory for a failure at t:
// <root>/<site>/<module>/<YYYY-MM-DD>/<HHMMSS.mmm>_<failureType>_<selectorId>.
func Dir(root string, req Request, t time.Time) string {
	name := fmt.Sprintf("%s_%s_%s",
		t.Format("150405.000"),
		pathPart(req.FailureType, "failure"),
		pathPart(req.SelectorID, "selector"),
	)
	return filepath.Join(root,
		pathPart(req.Site, "unknown"),
		pathPart(req.Module, "default"),
		t.Format("2006-01-02"),
		name,
	)
}

func (c *Capturer) write(ctx context.Context, j job) Result {
	at := c.now()
	res := Result{ID: j.id, SelectorID: j.req.SelectorID}

	dir := Dir(c.cfg.Root, j.req, at)
	if _, err := os.Stat(dir); err == nil {
		dir += "_" + j.id[:8]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Err = fmt.Errorf("snapshot: create dir: %w", err)
		return res
	}
	res.Dir = dir

	meta := Metadata{
		SnapshotID:          j.id,
		SelectorID:          j.req.SelectorID,
		Operation:           j.req.Operation,
		FailureType:         j.req.FailureType,
		CapturedAt:          at,
		ResolutionTimeMs:    j.req.ResolutionTime.Milliseconds(),
		StrategiesAttempted: attempted(j.req.Attempts),
		FallbackUsed:        j.req.FallbackUsed,
		Attempts:            j.req.Attempts,
		Context: ContextInfo{
			ScopeID:    j.scopeID,
			URL:        j.url,
			CapturedAt: j.docAt,
			Site:       j.req.Site,
			Module:     j.req.Module,
		},
		Files: make(map[string]string),
	}
	if meta.Operation == "" {
		meta.Operation = "resolve"
	}

	put := func(name string, data []byte) bool {
		if err := ctx.Err(); err != nil {
			meta.Errors = append(meta.Errors, fmt.Sprintf("%s: %v", name, err))
			return false
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			meta.Errors = append(meta.Errors, fmt.Sprintf("%s: %v", name, err))
			return false
		}
		res.Files = append(res.Files, name)
		return true
	}

	if put(FileHTML, []byte(j.html)) {
		meta.Files["html"] = FileHTML
	}
	if j.html != "" {
		meta.Page = describePage(j.html, j.url)
		if md, err := toMarkdown(c.conv, j.html, j.url); err != nil {
			meta.Errors = append(meta.Errors, fmt.Sprintf("%s: %v", FileMarkdown, err))
		} else if put(FileMarkdown, []byte(md)) {
			meta.Files["markdown"] = FileMarkdown
		}
		if put(FileView, c.view.SanitizeBytes([]byte(j.html))) {
			meta.Files["view"] = FileView
		}
	}

	if j.doc != nil {
		png, err := j.doc.Screenshot(ctx)
		switch {
		case err == nil:
			if put(FileScreenshot, png) {
				meta.Files["screenshot"] = FileScreenshot
			}
		case errors.Is(err, document.ErrUnsupported), errors.Is(err, document.ErrInvalid):
		default:
			meta.Errors = append(meta.Errors, fmt.Sprintf("%s: %v", FileScreenshot, err))
		}
	}

	if put(FileConsole, []byte(c.consoleLog(j.console))) {
		meta.Files["console"] = FileConsole
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		res.Err = fmt.Errorf("snapshot: marshal metadata: %w", err)
		return res
	}
	// metadata is written even when the budget is exhausted
	if err := os.WriteFile(filepath.Join(dir, FileMetadata), data, 0o644); err != nil {
		res.Err = fmt.Errorf("snapshot: write metadata: %w", err)
		return res
	}
	res.Files = append(res.Files, FileMetadata)
	if ctx.Err() != nil {
		res.Err = fmt.Errorf("snapshot: budget exceeded: %w", ctx.Err())
	}
	return res
}

func (c *Capturer) consoleLog(console []string) string {
	var b strings.Builder
	b.WriteString("# page console\n")
	for _, l := range console {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if c.ring != nil {
		b.WriteString("\n# engine log\n")
		for _, l := range c.ring.Lines(c.cfg.LogLines) {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func attempted(attempts []models.AttemptOutcome) []string {
	ids := make([]string, 0, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.StrategyID)
	}
	return ids
}

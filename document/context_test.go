package document

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceSource serves a scripted series of documents, repeating the last.
type sequenceSource struct {
	mu    sync.Mutex
	pages []string
	reads int
}

func (s *sequenceSource) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	if i >= len(s.pages) {
		i = len(s.pages) - 1
	}
	s.reads++
	return s.pages[i], nil
}

func (s *sequenceSource) URL() string { return "https://example.test/page" }

func TestFromHTML_Basics(t *testing.T) {
	dc, err := FromHTML(`<html><body><div id="a">hello</div></body></html>`, "scope-1")
	require.NoError(t, err)

	assert.Equal(t, "scope-1", dc.ScopeID())
	assert.True(t, dc.Valid())
	assert.Equal(t, 1, dc.Root("").Find("#a").Length())
	assert.Equal(t, 0, dc.Root("section").Find("#a").Length())
	assert.False(t, dc.CapturedAt().IsZero())

	_, err = dc.Screenshot(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Nil(t, dc.ConsoleLines())
}

func TestInvalidate(t *testing.T) {
	dc, err := FromHTML(`<p>x</p>`, "s")
	require.NoError(t, err)
	dc.Invalidate()
	assert.False(t, dc.Valid())
	assert.ErrorIs(t, dc.Stabilize(context.Background(), time.Second), ErrInvalid)
}

func TestStabilize_StaticIsNoop(t *testing.T) {
	dc, err := FromHTML(`<p>x</p>`, "s")
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, dc.Stabilize(context.Background(), time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestStabilize_WaitsForStructureToSettle(t *testing.T) {
	src := &sequenceSource{pages: []string{
		`<html><body><div class="spinner"></div></body></html>`,
		`<html><body><main><ul><li>1</li></ul></main></body></html>`,
		`<html><body><main><ul><li>1</li><li>2</li><li>3</li></ul><p id="done">ok</p></main></body></html>`,
	}}
	dc, err := New(context.Background(), src, "live", Options{PollInterval: 5 * time.Millisecond, StableDistance: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, dc.Root("").Find("#done").Length())

	require.NoError(t, dc.Stabilize(context.Background(), time.Second))
	assert.Equal(t, 1, dc.Root("").Find("#done").Length())
	assert.Equal(t, "https://example.test/page", dc.URL())
}

func TestStabilize_Cancelled(t *testing.T) {
	src := &sequenceSource{pages: []string{`<p>a</p>`}}
	dc, err := New(context.Background(), src, "live", Options{PollInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, dc.Stabilize(ctx, time.Second), context.Canceled)
}

func TestStabilize_TimeoutKeepsLatestView(t *testing.T) {
	src := &sequenceSource{pages: []string{`<p>a</p>`}}
	dc, err := New(context.Background(), src, "live", Options{PollInterval: time.Hour})
	require.NoError(t, err)
	assert.NoError(t, dc.Stabilize(context.Background(), 10*time.Millisecond))
}

// settlingSource behaves like a rod page: WaitStable sleeps the quiet
// period, after which the final document is served.
type settlingSource struct {
	mu     sync.Mutex
	before string
	after  string
	waits  int
	quiet  time.Duration
	stable bool
}

func (s *settlingSource) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stable {
		return s.after, nil
	}
	return s.before, nil
}

func (s *settlingSource) URL() string { return "https://example.test/live" }

func (s *settlingSource) WaitStable(ctx context.Context, quiet time.Duration) error {
	s.mu.Lock()
	s.waits++
	s.quiet = quiet
	s.mu.Unlock()
	select {
	case <-time.After(quiet):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.stable = true
	s.mu.Unlock()
	return nil
}

func TestStabilize_DelegatesToStabilizer(t *testing.T) {
	src := &settlingSource{before: `<div class="spinner"></div>`, after: `<p id="done">ok</p>`}
	dc, err := New(context.Background(), src, "live", Options{})
	require.NoError(t, err)

	require.NoError(t, dc.Stabilize(context.Background(), 500*time.Millisecond))
	assert.Equal(t, 1, dc.Root("").Find("#done").Length())
	assert.Equal(t, 250*time.Millisecond, src.quiet, "quiet period is clamped to half the wait")

	// a second wait right after settling reuses the settled view
	require.NoError(t, dc.Stabilize(context.Background(), 500*time.Millisecond))
	assert.Equal(t, 1, src.waits)
}

package document

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RodSource adapts a live rod page. The page stays owned by the caller;
// RodSource only reads from it.
type RodSource struct {
	page  *rod.Page
	limit int

	mu      sync.Mutex
	console []string
	stopped atomic.Bool
}

// NewRodSource wraps page and starts collecting up to consoleLimit console
// lines (oldest dropped first).
func NewRodSource(page *rod.Page, consoleLimit int) *RodSource {
	if consoleLimit <= 0 {
		consoleLimit = 200
	}
	s := &RodSource{page: page, limit: consoleLimit}
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) bool {
		s.recordConsole(e)
		return s.stopped.Load()
	})()
	return s
}

func (s *RodSource) recordConsole(e *proto.RuntimeConsoleAPICalled) {
	parts := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		if arg.Description != "" {
			parts = append(parts, arg.Description)
			continue
		}
		parts = append(parts, arg.Value.String())
	}
	line := fmt.Sprintf("[%s] %s", e.Type, strings.Join(parts, " "))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = append(s.console, line)
	if len(s.console) > s.limit {
		s.console = s.console[len(s.console)-s.limit:]
	}
}

// HTML returns the page's current outer HTML.
func (s *RodSource) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// URL returns the page's current location.
func (s *RodSource) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// WaitStable delegates to rod's DOM stability wait.
func (s *RodSource) WaitStable(ctx context.Context, quiet time.Duration) error {
	return s.page.Context(ctx).WaitDOMStable(quiet, 0.1)
}

// Screenshot captures the visible viewport as PNG.
func (s *RodSource) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

// ConsoleLines returns a copy of the collected console output.
func (s *RodSource) ConsoleLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.console...)
}

// Stop ends console collection at the next event.
func (s *RodSource) Stop() {
	s.stopped.Store(true)
}

package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/pinpoint/config"
)

// Browser owns a rod browser and a page pool used to open documents by URL
// for callers that do not bring their own session.
type Browser struct {
	browser     *rod.Browser
	pagePool    rod.Pool[rod.Page]
	cfg         config.BrowserConfig
	activePages atomic.Int32
}

// LaunchBrowser starts (or attaches to) a browser and creates the page pool.
func LaunchBrowser(cfg config.BrowserConfig) (*Browser, error) {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(cfg.NoSandbox)
		if cfg.BrowserBin != "" {
			l = l.Bin(cfg.BrowserBin)
		}
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("document: launch browser: %w", err)
		}
		controlURL = u
	}
	slog.Info("browser ready", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("document: connect browser: %w", err)
	}

	return &Browser{
		browser:  browser,
		pagePool: rod.NewPagePool(cfg.MaxPages),
		cfg:      cfg,
	}, nil
}

// Open navigates a pooled page to url and returns a Context over it.
// The returned release func invalidates the context and returns the page
// to the pool; it must always be called.
func (b *Browser) Open(ctx context.Context, url, scopeID string, useStealth bool, opts Options) (*Context, func(), error) {
	b.activePages.Add(1)

	page, err := b.pagePool.Get(func() (*rod.Page, error) {
		if useStealth {
			return stealth.Page(b.browser)
		}
		return b.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		b.activePages.Add(-1)
		return nil, func() {}, fmt.Errorf("document: acquire page: %w", err)
	}

	var src *RodSource
	var dc *Context
	release := func() {
		if dc != nil {
			dc.Invalidate()
		}
		if src != nil {
			src.Stop()
		}
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		b.pagePool.Put(page)
		b.activePages.Add(-1)
	}

	if useStealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	navTimeout := b.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 15 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		release()
		return nil, func() {}, fmt.Errorf("document: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		slog.Debug("page load wait did not complete, continuing", "url", url, "error", err)
	}

	src = NewRodSource(page, b.cfg.ConsoleLimit)
	dc, err = New(ctx, src, scopeID, opts)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return dc, release, nil
}

// ActivePages returns the number of pages currently checked out.
func (b *Browser) ActivePages() int {
	return int(b.activePages.Load())
}

// Close drains the page pool and closes the browser.
func (b *Browser) Close() {
	slog.Info("browser shutting down: draining page pool")
	b.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("PINPOINT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PINPOINT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PINPOINT_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"pinpoint",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	c := newClient(apiURL, apiKey)

	s.AddTool(mcp.NewTool("resolve_selectors",
		mcp.WithDescription("Resolve registered semantic selectors against a page. Each selector tries its strategies in priority order and returns the first candidate whose confidence passes the threshold."),
		mcp.WithArray("selector_ids",
			mcp.Required(),
			mcp.Description("Ids of registered selectors to resolve"),
		),
		mcp.WithString("html",
			mcp.Description("Inline HTML document. Either html or url is required."),
		),
		mcp.WithString("url",
			mcp.Description("Page to load in the server's browser. Either html or url is required."),
		),
		mcp.WithBoolean("stealth",
			mcp.Description("Load the url with anti-detection evasions"),
		),
	), handleResolve(c))

	s.AddTool(mcp.NewTool("list_selectors",
		mcp.WithDescription("List registered selectors with their strategies in priority order."),
	), handleListSelectors(c))

	s.AddTool(mcp.NewTool("selector_drift",
		mcp.WithDescription("Report whether a selector's success rate is improving, stable or degrading over a window."),
		mcp.WithString("selector_id", mcp.Required(), mcp.Description("Selector id")),
		mcp.WithString("strategy_id", mcp.Description("Narrow the report to one strategy")),
		mcp.WithString("window", mcp.Description("Look-back window as a Go duration, e.g. 24h (default: server setting)")),
	), handleDrift(c))

	s.AddTool(mcp.NewTool("selector_telemetry",
		mcp.WithDescription("Per-strategy success rate, fallback rate, latency percentiles and stability score for a selector."),
		mcp.WithString("selector_id", mcp.Required(), mcp.Description("Selector id")),
		mcp.WithString("window", mcp.Description("Look-back window as a Go duration, e.g. 24h")),
	), handleTelemetry(c))

	s.AddTool(mcp.NewTool("evolve_selector",
		mcp.WithDescription("Evaluate a selector's strategies from recorded history and promote, demote or blacklist them."),
		mcp.WithString("selector_id", mcp.Required(), mcp.Description("Selector id")),
		mcp.WithBoolean("dry_run", mcp.Description("Only report recommendations (default: true)")),
	), handleEvolve(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

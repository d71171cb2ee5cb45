package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/pinpoint/models"
)

func handleResolve(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := request.RequireStringSlice("selector_ids")
		if err != nil {
			return mcp.NewToolResultError("selector_ids is required and must be an array of strings"), nil
		}
		req := models.ResolveRequest{
			SelectorIDs: ids,
			HTML:        request.GetString("html", ""),
			URL:         request.GetString("url", ""),
			Stealth:     request.GetBool("stealth", false),
		}
		if req.HTML == "" && req.URL == "" {
			return mcp.NewToolResultError("one of html or url is required"), nil
		}

		var resp models.ResolveResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/resolve", nil, req, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatResolve(resp)), nil
	}
}

func formatResolve(resp models.ResolveResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Resolved %d selector(s) in %dms\n\n", len(resp.Results), resp.Timing.TotalMs)
	for _, r := range resp.Results {
		if r.Success && r.Candidate != nil {
			fmt.Fprintf(&sb, "%s: %q via %s (confidence %.2f, path %s)\n",
				r.SelectorID, r.Candidate.Text, r.StrategyID, r.Confidence, r.Candidate.Path)
			continue
		}
		fmt.Fprintf(&sb, "%s: FAILED (%s) after %s\n",
			r.SelectorID, r.FailureReason, strings.Join(r.StrategiesAttempted(), ", "))
		if r.SnapshotID != "" {
			fmt.Fprintf(&sb, "  snapshot: %s\n", r.SnapshotID)
		}
	}
	return sb.String()
}

func handleListSelectors(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var resp struct {
			Selectors []models.SelectorDefinition `json:"selectors"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/v1/selectors", nil, nil, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d selector(s)\n\n", len(resp.Selectors))
		for _, def := range resp.Selectors {
			fmt.Fprintf(&sb, "%s (threshold %.2f)\n", def.ID, def.Threshold)
			for _, s := range def.Ordered() {
				state := ""
				if !s.Enabled {
					state = " [disabled]"
				}
				fmt.Fprintf(&sb, "  %d. %s %s%s\n", s.Priority, s.ID, s.Kind(), state)
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func windowQuery(request mcp.CallToolRequest) url.Values {
	q := url.Values{}
	if w := request.GetString("window", ""); w != "" {
		q.Set("window", w)
	}
	return q
}

func handleDrift(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("selector_id")
		if err != nil {
			return mcp.NewToolResultError("selector_id is required"), nil
		}
		q := windowQuery(request)
		if s := request.GetString("strategy_id", ""); s != "" {
			q.Set("strategy", s)
		}

		var report models.DriftReport
		if err := c.do(ctx, http.MethodGet, "/api/v1/selectors/"+url.PathEscape(id)+"/drift", q, nil, &report); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("drift failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"%s: %s over %d samples (delta %+.3f, slope %+.4f, volatility %.4f)\nsub-window rates: %v\n",
			report.SelectorID, report.Trend, report.Samples, report.Delta, report.Slope, report.Volatility, report.SubWindowRates,
		)), nil
	}
}

func handleTelemetry(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("selector_id")
		if err != nil {
			return mcp.NewToolResultError("selector_id is required"), nil
		}

		var resp models.TelemetryResponse
		if err := c.do(ctx, http.MethodGet, "/api/v1/selectors/"+url.PathEscape(id)+"/telemetry", windowQuery(request), nil, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("telemetry failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%s over %s\n\n", resp.SelectorID, resp.Window)
		for _, s := range resp.Strategies {
			fmt.Fprintf(&sb, "%s: %d samples, success %.1f%%, fallback %.1f%%, p50 %s, p95 %s, stability %.2f\n",
				s.StrategyID, s.Samples, s.SuccessRate*100, s.FallbackRate*100, s.P50, s.P95, s.StabilityScore)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleEvolve(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("selector_id")
		if err != nil {
			return mcp.NewToolResultError("selector_id is required"), nil
		}
		q := url.Values{}
		q.Set("dry_run", fmt.Sprint(request.GetBool("dry_run", true)))

		var resp models.EvolveResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/selectors/"+url.PathEscape(id)+"/evolve", q, nil, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("evolve failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: applied=%t\n\n", resp.SelectorID, resp.Applied)
		for _, r := range resp.Recommendations {
			fmt.Fprintf(&sb, "%s → %s (rank %d): %s\n", r.StrategyID, r.Action, r.TargetRank, r.Reason)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

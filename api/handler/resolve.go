package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/resolver"
)

// DocumentOpener loads a live page. *document.Browser implements it.
type DocumentOpener interface {
	Open(ctx context.Context, url, scopeID string, useStealth bool, opts document.Options) (*document.Context, func(), error)
}

// Resolve returns a handler for POST /api/v1/resolve.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Build the document context from inline HTML or the browser.
//  3. Resolve every selector against it concurrently.
//  4. Fill Timing, return 200 even when some selectors failed.
//
// opener may be nil, in which case only inline HTML is accepted.
func Resolve(res *resolver.Resolver, opener DocumentOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondResolveError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error(), totalStart)
			return
		}
		req.Defaults()

		switch {
		case req.HTML == "" && req.URL == "":
			respondResolveError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "one of html or url is required", totalStart)
			return
		case req.HTML != "" && req.URL != "":
			respondResolveError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "html and url are mutually exclusive", totalStart)
			return
		case req.URL != "" && opener == nil:
			respondResolveError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "url documents need a browser; send html instead", totalStart)
			return
		}

		ctx := c.Request.Context()
		if req.TimeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}

		docStart := time.Now()
		doc, release, err := openDocument(ctx, opener, &req)
		documentMs := time.Since(docStart).Milliseconds()
		if err != nil {
			respondResolveError(c, http.StatusBadGateway, models.ErrCodeDocumentLoad, err.Error(), totalStart)
			return
		}
		defer release()

		resolveStart := time.Now()
		results, err := res.ResolveBatch(ctx, req.SelectorIDs, doc)
		resolveMs := time.Since(resolveStart).Milliseconds()
		if err != nil {
			status, detail := toDetail(err)
			c.JSON(status, models.ResolveResponse{
				Success: false,
				Error:   detail,
				Timing: models.TimingInfo{
					TotalMs:    time.Since(totalStart).Milliseconds(),
					DocumentMs: documentMs,
					ResolveMs:  resolveMs,
				},
			})
			return
		}

		success := true
		for _, r := range results {
			if !r.Success {
				success = false
				break
			}
		}

		c.JSON(http.StatusOK, models.ResolveResponse{
			Success: success,
			Results: results,
			Timing: models.TimingInfo{
				TotalMs:    time.Since(totalStart).Milliseconds(),
				DocumentMs: documentMs,
				ResolveMs:  resolveMs,
			},
		})
	}
}

func openDocument(ctx context.Context, opener DocumentOpener, req *models.ResolveRequest) (*document.Context, func(), error) {
	if req.HTML != "" {
		doc, err := document.FromHTML(req.HTML, req.ScopeID)
		if err != nil {
			return nil, nil, err
		}
		return doc, doc.Invalidate, nil
	}
	return opener.Open(ctx, req.URL, req.ScopeID, req.Stealth, document.Options{})
}

func respondResolveError(c *gin.Context, status int, code, msg string, start time.Time) {
	c.JSON(status, models.ResolveResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: msg},
		Timing:  models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
	})
}

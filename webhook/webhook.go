package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/snapshot"
)

// Event types.
const (
	EventSnapshotCaptured = "snapshot.captured"
	EventSnapshotFailed   = "snapshot.failed"
	EventEvolutionApplied = "evolution.applied"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Pinpoint-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	SelectorID string      `json:"selector_id"`
	Timestamp  int64       `json:"timestamp"`
	Data       interface{} `json:"data"`
}

// retryDelays are the waits before each delivery attempt.
var retryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Pinpoint-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends a webhook event in the background, retrying after
// 1s, 5s and 30s.
func DeliverAsync(url, secret string, event *Event) {
	go func() {
		for attempt, delay := range retryDelays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, url, secret, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"url", url,
					"event", event.Type,
					"id", event.ID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"id", event.ID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"url", url,
			"event", event.Type,
			"id", event.ID,
		)
	}()
}

// Notifier turns engine events into webhook deliveries. A Notifier with
// an empty URL drops everything.
type Notifier struct {
	URL    string
	Secret string
}

func (n Notifier) send(event *Event) {
	if n.URL == "" {
		return
	}
	event.Timestamp = time.Now().Unix()
	DeliverAsync(n.URL, n.Secret, event)
}

type snapshotData struct {
	Dir   string   `json:"dir,omitempty"`
	Files []string `json:"files,omitempty"`
	Error string   `json:"error,omitempty"`
}

// SnapshotDone reports a finished capture. It matches the snapshot
// completion callback signature.
func (n Notifier) SnapshotDone(res snapshot.Result) {
	ev := &Event{Type: EventSnapshotCaptured, ID: res.ID, SelectorID: res.SelectorID}
	data := snapshotData{Dir: res.Dir, Files: res.Files}
	if res.Err != nil {
		ev.Type = EventSnapshotFailed
		data.Error = res.Err.Error()
	}
	ev.Data = data
	n.send(ev)
}

type evolutionData struct {
	Applied    []models.StrategyRecommendation `json:"applied"`
	Strategies []models.StrategySpec           `json:"strategies"`
}

// EvolutionApplied reports committed strategy changes. It matches the
// evolution manager callback signature.
func (n Notifier) EvolutionApplied(def models.SelectorDefinition, applied []models.StrategyRecommendation) {
	n.send(&Event{
		Type:       EventEvolutionApplied,
		ID:         fmt.Sprintf("%s-%d", def.ID, time.Now().UnixNano()),
		SelectorID: def.ID,
		Data:       evolutionData{Applied: applied, Strategies: def.Ordered()},
	})
}

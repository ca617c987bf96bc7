// Package webhook notifies external endpoints about replay runs. Payloads
// are the JSON run events, signed with HMAC-SHA256 when a secret is set.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/events"
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Scenario-Event"
	HeaderSignature = "X-Scenario-Signature-256"
	HeaderDelivery  = "X-Scenario-Delivery"
)

// Options configures a Notifier.
type Options struct {
	URLs    []string
	Secret  string
	Events  []string // patterns such as "run.finished" or "run.*"; empty means run.finished
	Timeout time.Duration
	Retries int
}

// Notifier posts matching run events to every configured URL.
// It implements events.Publisher.
type Notifier struct {
	client   *resty.Client
	urls     []string
	secret   string
	patterns []string
	timeout  time.Duration
	logger   zerolog.Logger
}

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// New validates the URLs and builds a notifier.
func New(opts Options, logger zerolog.Logger) (*Notifier, error) {
	for _, raw := range opts.URLs {
		if err := validateURL(raw); err != nil {
			return nil, err
		}
	}
	patterns := opts.Events
	if len(patterns) == 0 {
		patterns = []string{events.RunFinished}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	client := resty.New().
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		client:   client,
		urls:     opts.URLs,
		secret:   opts.Secret,
		patterns: patterns,
		timeout:  timeout,
		logger:   logger.With().Str("component", "webhook").Logger(),
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook: invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook: url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook: url %q has no host", raw)
	}
	return nil
}

// Matches reports whether eventType is selected by pattern. A trailing ".*"
// matches every type under the prefix.
func Matches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}

func (n *Notifier) wants(eventType string) bool {
	for _, p := range n.patterns {
		if Matches(p, eventType) {
			return true
		}
	}
	return false
}

// Publish delivers ev to every URL when its type matches. Failures are
// logged and joined into the returned error.
func (n *Notifier) Publish(ctx context.Context, ev events.Event) error {
	if !n.wants(ev.Type) || len(n.urls) == 0 {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var errs []error
	for _, target := range n.urls {
		if err := n.deliver(ctx, target, ev, payload); err != nil {
			n.logger.Warn().Err(err).Str("url", target).Str("run_id", ev.RunID).Msg("webhook delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, target string, ev events.Event, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req := n.client.R().
		SetContext(ctx).
		SetHeader(HeaderEvent, ev.Type).
		SetHeader(HeaderDelivery, ev.RunID+":"+ev.Type).
		SetBody(payload)
	if n.secret != "" {
		req.SetHeader(HeaderSignature, "sha256="+SignPayload(payload, n.secret))
	}

	start := time.Now()
	resp, err := req.Post(target)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", target, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: post %s: http %d", target, resp.StatusCode())
	}
	n.logger.Debug().
		Str("url", target).
		Str("event", ev.Type).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("webhook delivered")
	return nil
}

func (n *Notifier) Close() error { return nil }

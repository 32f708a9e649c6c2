package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Joblistings-Signature"
	HeaderTimestamp = "X-Joblistings-Timestamp"
	HeaderEvent     = "X-Joblistings-Event"
	HeaderDelivery  = "X-Joblistings-Delivery"
	HeaderAttempt   = "X-Joblistings-Attempt"

	userAgent = "joblistings-webhook/1"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// StatusError is a non-2xx answer from the receiving endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status=%d", e.StatusCode)
}

// Retryable reports whether a later attempt could succeed. Other 4xx answers
// mean the receiver refused the event itself.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// Client delivers dataset events. Each request is signed with HMAC-SHA256 over
// "timestamp.body" and retried with exponential backoff.
type Client struct {
	httpClient *http.Client
	secret     string
	retry      retryPolicy
	now        func() time.Time
}

type retryPolicy struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

// wait returns the pause before attempt n+1.
func (p retryPolicy) wait(n int) time.Duration {
	d := p.initial
	for i := 1; i < n && d < p.max; i++ {
		d *= 2
	}
	if d > p.max {
		return p.max
	}
	return d
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := retryPolicy{
		attempts: max(cfg.MaxAttempts, 1),
		initial:  cfg.InitialBackoff,
		max:      cfg.MaxBackoff,
	}
	if policy.initial <= 0 {
		policy.initial = time.Second
	}
	if policy.max < policy.initial {
		policy.max = policy.initial
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		secret:     cfg.SigningSecret,
		retry:      policy,
		now:        time.Now,
	}
}

// NotifyDatasetReplaced posts ev to endpoint. A blank endpoint disables
// delivery.
func (c *Client) NotifyDatasetReplaced(ctx context.Context, endpoint string, ev DatasetReplacedEvent) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if ev.Event == "" {
		ev.Event = EventDatasetReplaced
	}
	if ev.DeliveryID == "" {
		ev.DeliveryID = DeliveryID(ev.UploadID)
	}
	if ev.DeliveredAt.IsZero() {
		ev.DeliveredAt = c.now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Event, err)
	}
	return c.deliver(ctx, endpoint, delivery{event: ev.Event, id: ev.DeliveryID, body: body})
}

type delivery struct {
	event string
	id    string
	body  []byte
}

func (c *Client) deliver(ctx context.Context, endpoint string, d delivery) error {
	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := Sign(c.secret, timestamp, d.body)

	var lastErr error
	for attempt := 1; attempt <= c.retry.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.wait(attempt - 1)):
			}
		}

		retry, err := c.post(ctx, endpoint, d, timestamp, signature, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return fmt.Errorf("deliver %s: %w", d.id, err)
		}
	}
	return fmt.Errorf("deliver %s: gave up after %d attempts: %w", d.id, c.retry.attempts, lastErr)
}

// post makes one attempt and reports whether a failure is worth retrying.
func (c *Client) post(ctx context.Context, endpoint string, d delivery, timestamp, signature string, attempt int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(d.body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderDelivery, d.id)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	return statusErr.Retryable(), statusErr
}

// Sign computes the signature header value for a timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

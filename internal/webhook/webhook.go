// Package webhook delivers invocation reports to an operator callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mangaflow/mangaflow/internal/dispatch"
)

const (
	retryAttempts  = 8
	retryBase      = time.Second
	retryCap       = 5 * time.Minute
	requestTimeout = 30 * time.Second
)

// Sender POSTs JSON payloads to a fixed callback URL in the background.
type Sender struct {
	url      string
	client   *http.Client
	logger   *slog.Logger
	attempts int
	backoff  dispatch.Backoff
	wg       sync.WaitGroup
}

// New validates callbackURL and returns a Sender for it.
func New(callbackURL string, logger *slog.Logger) (*Sender, error) {
	if err := validateURL(callbackURL); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	return newSender(callbackURL, logger), nil
}

func newSender(callbackURL string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		url:      callbackURL,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
		attempts: retryAttempts,
		backoff:  dispatch.Backoff{Base: retryBase, Cap: retryCap},
	}
}

// Send marshals v and delivers it asynchronously with jittered retries.
// Retries stop when ctx is done, so pass a context that outlives the caller's
// request but ends on shutdown.
func (s *Sender) Send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ctx, payload)
	}()
	return nil
}

// Wait blocks until every pending delivery has finished or given up.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func (s *Sender) deliver(ctx context.Context, payload []byte) {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := s.post(ctx, payload)
		if err == nil {
			return
		}
		s.logger.Warn("webhook attempt failed", "attempt", attempt, "url", s.url, "error", err)
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff.Delay(attempt)):
			}
		}
	}
	s.logger.Error("webhook: all retries exhausted", "url", s.url)
}

func (s *Sender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

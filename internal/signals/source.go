// Package signals pulls trade signals from the external ML service. The
// assistant never generates signals; it only consumes and judges them.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crypto-trading-assistant/internal/engine"

	"github.com/rs/zerolog"
)

// HTTPSource polls an ML signal service over HTTP.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPSource creates a source polling baseURL. Expects the service to
// answer GET {baseURL}/signals?pairs=A,B with a JSON array of signals.
func NewHTTPSource(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "signals").Logger(),
	}
}

// Latest fetches the current batch of signals for the given pairs.
func (s *HTTPSource) Latest(ctx context.Context, pairs []string) ([]engine.Signal, error) {
	endpoint := fmt.Sprintf("%s/signals?pairs=%s", s.baseURL, url.QueryEscape(strings.Join(pairs, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build signal request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signal service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal service returned %d: %s", resp.StatusCode, string(body))
	}

	var sigs []engine.Signal
	if err := json.Unmarshal(body, &sigs); err != nil {
		return nil, fmt.Errorf("failed to parse signals: %w", err)
	}

	s.logger.Debug().Int("count", len(sigs)).Msg("signals fetched")
	return sigs, nil
}

// QueueSource serves signals from an in-memory queue. Used in tests and in
// dry mode when no ML service is configured.
type QueueSource struct {
	mu    sync.Mutex
	queue []engine.Signal
}

// NewQueueSource creates an empty queue source.
func NewQueueSource() *QueueSource {
	return &QueueSource{}
}

// Push enqueues signals for the next Latest call.
func (q *QueueSource) Push(sigs ...engine.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, sigs...)
}

// Latest drains the queue, returning only signals for the requested pairs.
func (q *QueueSource) Latest(ctx context.Context, pairs []string) ([]engine.Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	allowed := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		allowed[p] = true
	}

	var out, keep []engine.Signal
	for _, sig := range q.queue {
		if allowed[sig.Pair] {
			out = append(out, sig)
		} else {
			keep = append(keep, sig)
		}
	}
	q.queue = keep
	return out, nil
}

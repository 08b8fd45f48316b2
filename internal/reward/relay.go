// Package reward relays thumbs-up/down signals to an external training
// endpoint. Delivery is fire-and-forget: submissions never block the UI and
// delivery failures are logged, not surfaced.
package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pagespin/internal/logging"
)

// Sink delivers a single reward signal.
type Sink interface {
	Deliver(ctx context.Context, score int, note string) error
}

// Relay queues reward signals and delivers them on a background worker.
type Relay struct {
	sink    Sink
	queue   chan signal
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

type signal struct {
	score int
	note  string
}

// NewRelay starts the delivery worker. queueSize bounds the number of
// undelivered signals before new ones are dropped.
func NewRelay(sink Sink, queueSize int, timeout time.Duration) *Relay {
	if queueSize <= 0 {
		queueSize = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Relay{
		sink:    sink,
		queue:   make(chan signal, queueSize),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go r.worker()
	return r
}

// Submit enqueues a reward signal. It never blocks: when the queue is full
// the signal is dropped with a warning.
func (r *Relay) Submit(ctx context.Context, score int, note string) error {
	select {
	case r.queue <- signal{score: score, note: note}:
		logging.Reward("queued reward %+d", score)
	default:
		logging.RewardWarn("reward queue full, dropping signal %+d", score)
	}
	return nil
}

// Close stops accepting signals and drains the queue.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Relay) worker() {
	defer close(r.done)
	for sig := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Deliver(ctx, sig.score, sig.note); err != nil {
			logging.RewardWarn("deliver reward %+d: %v", sig.score, err)
		} else {
			logging.Reward("delivered reward %+d", sig.score)
		}
		cancel()
	}
}

// HTTPSink posts reward signals as JSON to a feedback endpoint.
type HTTPSink struct {
	Endpoint string
	Client   *http.Client
}

type rewardPayload struct {
	Reward int    `json:"reward"`
	Note   string `json:"note,omitempty"`
}

func (s *HTTPSink) Deliver(ctx context.Context, score int, note string) error {
	body, err := json.Marshal(rewardPayload{Reward: score, Note: note})
	if err != nil {
		return fmt.Errorf("encode reward: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post reward: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feedback endpoint returned %d", resp.StatusCode)
	}
	return nil
}

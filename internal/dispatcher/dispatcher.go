// Package dispatcher drives the asynchronous flush loop and delivers
// released batches to the ingestion endpoint.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GabrielNunesIT/azmon-sink/internal/buffer"
	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/azmon-sink/internal/encoder"
	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// DeliveryError reports a failed delivery attempt: a non-2xx response or a
// transport-level failure on the ingestion call.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return "delivering batch: " + e.Err.Error()
	}
	return fmt.Sprintf("delivering batch: ingestion endpoint returned status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource provides bearer tokens for delivery attempts.
// *auth.TokenCache satisfies it.
type TokenSource interface {
	Current(ctx context.Context) (string, error)
	Invalidate()
	Refresh(ctx context.Context) error
}

// Dispatcher owns the flush loop. A ticker forces the buffer to release its
// partial batch every flush interval, and released batches are delivered one
// at a time. Per batch the lifecycle is pending -> sending -> delivered or
// failed; a failed batch is terminal and is never re-sent — the only
// recovery action is invalidating the cached token.
type Dispatcher struct {
	cfg    config.SinkConfig
	tokens TokenSource
	enc    *encoder.Encoder
	buf    *buffer.BatchBuffer
	client HTTPDoer
	logger logger.ILogger

	// sendMu serializes deliveries: at most one ingestion call is in
	// flight for the sink as a whole. Overlapping flush triggers queue
	// here instead of issuing concurrent requests.
	sendMu sync.Mutex

	delivered atomic.Int64
	failed    atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets a custom HTTP client for testing.
func WithHTTPClient(client HTTPDoer) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// New creates a dispatcher delivering batches released by buf.
func New(cfg config.SinkConfig, tokens TokenSource, enc *encoder.Encoder, buf *buffer.BatchBuffer, log logger.ILogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		tokens: tokens,
		enc:    enc,
		buf:    buf,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.SubLogger("Dispatcher"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the background flush loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

// Stop halts the flush loop, forces a final flush, and drains released
// batches until the shutdown timeout elapses. Batches still queued past the
// deadline are discarded.
func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.done)
	d.wg.Wait()

	d.buf.Flush()

	timeout := time.NewTimer(d.cfg.ShutdownTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-timeout.C:
			if n := d.discardQueued(); n > 0 {
				d.logger.Warningf("shutdown deadline reached, discarding undelivered records: count=%d", n)
			}
			return nil
		case batch := <-d.buf.Ready():
			d.deliver(ctx, batch)
		default:
			return nil
		}
	}
}

// Delivered returns the number of batches delivered so far.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

// Failed returns the number of batches that failed delivery.
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

// run is the flush loop: ticks release partial batches, and released
// batches are delivered in FIFO order.
func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			d.buf.Flush()
		case batch := <-d.buf.Ready():
			d.deliver(ctx, batch)
		}
	}
}

// deliver attempts exactly one delivery of a batch. On failure the batch is
// dropped after logging; the cached token is invalidated and refreshed in
// the background on the assumption that expiry is the most common cause.
func (d *Dispatcher) deliver(ctx context.Context, batch []*model.LogRecord) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if err := d.send(ctx, batch); err != nil {
		d.failed.Add(1)
		d.logger.Errorf("batch delivery failed: records=%d, error=%v", len(batch), err)

		d.tokens.Invalidate()
		go func() {
			if rerr := d.tokens.Refresh(context.Background()); rerr != nil {
				d.logger.Errorf("token refresh failed: %v", rerr)
			}
		}()
		return
	}

	d.delivered.Add(1)
	d.logger.Debugf("batch delivered: records=%d", len(batch))
}

// send serializes the batch and posts it to the ingestion endpoint.
func (d *Dispatcher) send(ctx context.Context, batch []*model.LogRecord) error {
	body, err := d.enc.Encode(batch)
	if err != nil {
		return err
	}

	token, err := d.tokens.Current(ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/dataCollectionRules/%s/streams/%s?api-version=%s",
		strings.TrimRight(d.cfg.Endpoint, "/"), d.cfg.RuleID, d.cfg.Stream, d.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode}
	}
	return nil
}

// discardQueued drains and counts whatever is left on the ready queue.
func (d *Dispatcher) discardQueued() int {
	n := 0
	for {
		select {
		case batch := <-d.buf.Ready():
			n += len(batch)
		default:
			return n
		}
	}
}

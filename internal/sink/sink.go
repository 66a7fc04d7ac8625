// Package sink exposes the public entry point for shipping log records to
// the Azure Monitor Logs Ingestion endpoint.
package sink

import (
	"context"
	"fmt"

	"github.com/GabrielNunesIT/azmon-sink/internal/auth"
	"github.com/GabrielNunesIT/azmon-sink/internal/buffer"
	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/azmon-sink/internal/dispatcher"
	"github.com/GabrielNunesIT/azmon-sink/internal/encoder"
	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// Sink accepts log records and ships them in batches. Emit is fire-and-forget:
// it never blocks on network I/O and never surfaces an error to the producer.
// Delivery problems are reported on the diagnostic log only.
type Sink struct {
	buf    *buffer.BatchBuffer
	disp   *dispatcher.Dispatcher
	tokens *auth.TokenCache
	logger logger.ILogger
}

type options struct {
	authClient   auth.HTTPDoer
	ingestClient dispatcher.HTTPDoer
	encoderOpts  []encoder.Option
}

// Option configures a Sink.
type Option func(*options)

// WithAuthHTTPClient sets a custom HTTP client for the token endpoint.
func WithAuthHTTPClient(client auth.HTTPDoer) Option {
	return func(o *options) {
		o.authClient = client
	}
}

// WithIngestHTTPClient sets a custom HTTP client for the ingestion endpoint.
func WithIngestHTTPClient(client dispatcher.HTTPDoer) Option {
	return func(o *options) {
		o.ingestClient = client
	}
}

// WithEncoderOptions forwards options to the payload encoder, e.g. an
// application-provided serializer.
func WithEncoderOptions(opts ...encoder.Option) Option {
	return func(o *options) {
		o.encoderOpts = append(o.encoderOpts, opts...)
	}
}

// New builds a sink from configuration and obtains the first bearer token.
// Construction blocks until the token is available or the startup timeout
// elapses; a sink is never handed out with an empty token.
func New(cfg config.SinkConfig, log logger.ILogger, opts ...Option) (*Sink, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var authOpts []auth.Option
	if o.authClient != nil {
		authOpts = append(authOpts, auth.WithHTTPClient(o.authClient))
	}
	tokens := auth.NewTokenCache(cfg.Auth, log, authOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupTimeout)
	defer cancel()
	if _, err := tokens.Current(ctx); err != nil {
		return nil, fmt.Errorf("obtaining initial token: %w", err)
	}

	enc := encoder.New(encoder.Naming(cfg.Naming), cfg.MaxDepth, o.encoderOpts...)
	buf := buffer.New(cfg.BatchSize, cfg.BufferCapacity, log)

	var dispOpts []dispatcher.Option
	if o.ingestClient != nil {
		dispOpts = append(dispOpts, dispatcher.WithHTTPClient(o.ingestClient))
	}
	disp := dispatcher.New(cfg, tokens, enc, buf, log, dispOpts...)

	return &Sink{
		buf:    buf,
		disp:   disp,
		tokens: tokens,
		logger: log.SubLogger("Sink"),
	}, nil
}

// Emit hands one record to the sink. Safe for concurrent producers.
func (s *Sink) Emit(rec *model.LogRecord) {
	if rec == nil {
		return
	}
	s.buf.Push(rec)
}

// Start launches the background flush loop.
func (s *Sink) Start(ctx context.Context) error {
	return s.disp.Start(ctx)
}

// Stop forces a final flush and shuts down within the shutdown timeout.
// Records still buffered past the deadline are discarded.
func (s *Sink) Stop(ctx context.Context) error {
	err := s.disp.Stop(ctx)
	s.logger.Infof("sink stopped: delivered=%d, failed=%d, dropped=%d",
		s.disp.Delivered(), s.disp.Failed(), s.buf.Dropped())
	return err
}

// Pending returns the number of records waiting in the live batch.
func (s *Sink) Pending() int {
	return s.buf.Pending()
}

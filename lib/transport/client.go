// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/bureau-foundation/apm/lib/clock"
	"github.com/bureau-foundation/apm/lib/codec"
	"github.com/bureau-foundation/apm/lib/config"
	"github.com/bureau-foundation/apm/lib/schema/apm"
)

// drainTimeout bounds the final send made when Run's context ends.
const drainTimeout = 5 * time.Second

// Backoff after a failed triggered send. It starts at initialBackoff and
// doubles on each consecutive failure, capped at maxBackoff. A
// successful send resets it.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrClosed is returned by Flush once the sender loop has exited.
var ErrClosed = errors.New("transport: client closed")

// Options configures a Client. Zero sizes and durations take the
// defaults from config.Default.
type Options struct {
	Sender Sender
	Clock  clock.Clock
	Logger *slog.Logger

	// Meter receives the queue gauges. Nil uses the global
	// OpenTelemetry meter provider.
	Meter metric.Meter

	APIRequestSize int
	APIRequestTime time.Duration
	MaxQueueSize   int
	ServerTimeout  time.Duration
	Compression    string

	// Metadata prefixes every batch.
	Metadata apm.Metadata

	// ExpectExtraMetadata holds back sends until SetExtraMetadata is
	// called, so the first batch already carries it. A flush sends
	// regardless.
	ExpectExtraMetadata bool

	// OnError receives every failed send. It runs on the sender
	// goroutine and must not block.
	OnError func(error)
}

// FlushOptions modifies a flush.
type FlushOptions struct {
	// LambdaEnd marks the flushed batch as the last of a serverless
	// invocation. The batch is sent even when no events are queued.
	LambdaEnd bool
}

type flushRequest struct {
	options FlushOptions
	done    chan error
}

// settings are the values Configure may change at runtime.
type settings struct {
	requestTime   time.Duration
	serverTimeout time.Duration
	compression   string
	metadata      apm.Metadata
}

// Client queues events and ships them in batches.
type Client struct {
	sender  Sender
	clock   clock.Clock
	logger  *slog.Logger
	onError func(error)

	queue *queue

	mu       sync.Mutex
	settings settings
	extra    *apm.Metadata

	// metadataReady is closed by SetExtraMetadata; nil when no extra
	// metadata is expected.
	metadataReady chan struct{}
	metadataOnce  sync.Once

	flushes chan flushRequest
	retime  chan struct{}
	done    chan struct{}

	batchesSent atomic.Uint64
	sendErrors  atomic.Uint64
}

// New returns a Client. Call Run to start sending.
func New(options Options) *Client {
	defaults := config.Default()
	if options.APIRequestSize <= 0 {
		options.APIRequestSize = defaults.APIRequestSize
	}
	if options.APIRequestTime <= 0 {
		options.APIRequestTime = defaults.APIRequestTime
	}
	if options.MaxQueueSize <= 0 {
		options.MaxQueueSize = defaults.MaxQueueSize
	}
	if options.ServerTimeout <= 0 {
		options.ServerTimeout = defaults.ServerTimeout
	}
	if options.Compression == "" {
		options.Compression = defaults.Compression
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Meter == nil {
		options.Meter = otel.Meter("github.com/bureau-foundation/apm/lib/transport")
	}

	client := &Client{
		sender:  options.Sender,
		clock:   options.Clock,
		logger:  options.Logger,
		onError: options.OnError,
		queue:   newQueue(options.MaxQueueSize, options.APIRequestSize),
		settings: settings{
			requestTime:   options.APIRequestTime,
			serverTimeout: options.ServerTimeout,
			compression:   options.Compression,
			metadata:      options.Metadata,
		},
		flushes: make(chan flushRequest),
		retime:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if options.ExpectExtraMetadata {
		client.metadataReady = make(chan struct{})
	}
	client.registerMetrics(options.Meter)
	return client
}

// Enqueue queues event for sending. It never blocks. It returns false
// when the event was dropped: the queue is full, or the event could not
// be encoded.
func (c *Client) Enqueue(event apm.Event) bool {
	encoded, err := codec.Marshal(event)
	if err != nil {
		c.logger.Error("dropping event that cannot be encoded",
			"kind", event.Kind,
			"error", err,
		)
		return false
	}
	if !c.queue.push(encoded) {
		c.logger.Debug("queue full, dropping event",
			"kind", event.Kind,
			"dropped_total", c.queue.droppedCount(),
		)
		return false
	}
	return true
}

// Len returns the number of queued events.
func (c *Client) Len() int { return c.queue.len() }

// Dropped returns how many events were refused because the queue was
// full.
func (c *Client) Dropped() uint64 { return c.queue.droppedCount() }

// BatchesSent returns how many batches the collector accepted.
func (c *Client) BatchesSent() uint64 { return c.batchesSent.Load() }

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} { return c.done }

// SetExtraMetadata supplies metadata discovered at runtime. Its fields
// override the configured metadata in every later batch.
func (c *Client) SetExtraMetadata(extra apm.Metadata) {
	c.mu.Lock()
	c.extra = &extra
	c.mu.Unlock()
	if c.metadataReady != nil {
		c.metadataOnce.Do(func() { close(c.metadataReady) })
	}
}

// Run is the sender loop. It returns when ctx is cancelled, after one
// bounded attempt to send whatever is still queued.
//
// After a failed send the size and time triggers are suppressed until
// the backoff elapses, when the queue is retried once. An explicit
// Flush always sends.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)

	ticker := c.clock.NewTicker(c.current().requestTime)
	defer ticker.Stop()

	metadataReady := c.metadataReady
	holding := metadataReady != nil

	backoff := initialBackoff
	var retry <-chan time.Time

	// settle records the outcome of a send for the backoff schedule.
	settle := func(err error) {
		if err == nil {
			backoff = initialBackoff
			retry = nil
			return
		}
		c.logger.Debug("backing off triggered sends",
			"backoff", backoff,
			"queued", c.queue.len(),
		)
		retry = c.clock.After(backoff)
		backoff = min(backoff*2, maxBackoff)
	}

	for {
		select {
		case <-c.queue.full:
			if holding || retry != nil {
				continue
			}
			settle(c.sendQueued(ctx, false))
			ticker.Reset(c.current().requestTime)

		case <-ticker.C():
			if holding || retry != nil {
				continue
			}
			settle(c.sendQueued(ctx, false))

		case <-retry:
			retry = nil
			if holding || c.queue.len() == 0 {
				continue
			}
			settle(c.sendQueued(ctx, false))
			ticker.Reset(c.current().requestTime)

		case <-metadataReady:
			holding = false
			metadataReady = nil
			if retry == nil && c.queue.overThreshold() {
				settle(c.sendQueued(ctx, false))
				ticker.Reset(c.current().requestTime)
			}

		case <-c.retime:
			ticker.Reset(c.current().requestTime)

		case request := <-c.flushes:
			err := c.sendQueued(ctx, request.options.LambdaEnd)
			if err == nil {
				settle(nil)
			}
			request.done <- err
			ticker.Reset(c.current().requestTime)

		case <-ctx.Done():
			drainContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			if err := c.sendQueued(drainContext, false); err != nil {
				c.logger.Warn("final send failed, abandoning queued events",
					"error", err,
					"queued", c.queue.len(),
				)
			}
			cancel()
			return
		}
	}
}

// Flush sends every queued event now and waits for the collector's
// answer. It returns the send error, if any.
func (c *Client) Flush(ctx context.Context, options FlushOptions) error {
	request := flushRequest{options: options, done: make(chan error, 1)}
	select {
	case c.flushes <- request:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-request.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendQueued sends the events queued when it was called, in batches of
// at most the byte threshold. It stops at the first failure, leaving the
// unsent events queued. With flushed set, the last batch carries the
// flushed marker and is sent even when empty.
func (c *Client) sendQueued(ctx context.Context, flushed bool) error {
	remaining := c.queue.len()
	for remaining > 0 || flushed {
		events := c.queue.peek(remaining)
		last := len(events) == remaining
		if err := c.send(ctx, events, flushed && last); err != nil {
			c.report(err)
			return err
		}
		c.queue.remove(len(events))
		remaining -= len(events)
		if last {
			return nil
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, events []codec.RawMessage, flushed bool) error {
	current := c.current()
	request, err := EncodeRequest(&apm.Batch{
		Metadata: current.metadata,
		Events:   events,
		Flushed:  flushed,
	}, current.compression)
	if err != nil {
		return err
	}

	sendContext, cancel := context.WithTimeout(ctx, current.serverTimeout)
	defer cancel()
	if err := c.sender.Send(sendContext, request); err != nil {
		return err
	}
	c.batchesSent.Add(1)
	c.logger.Debug("batch sent",
		"events", request.Events,
		"bytes", len(request.Body),
		"flushed", flushed,
	)
	return nil
}

// report logs a failed send and hands it to OnError. Fatal responses
// log at error level; transient ones at warn, since the events stay
// queued for the next attempt.
func (c *Client) report(err error) {
	c.sendErrors.Add(1)
	if IsFatal(err) {
		c.logger.Error("collector refused batch", "error", err, "queued", c.queue.len())
	} else {
		c.logger.Warn("batch send failed, will retry", "error", err, "queued", c.queue.len())
	}
	if c.onError != nil {
		c.onError(err)
	}
}

// current returns the runtime settings with the extra metadata merged.
func (c *Client) current() settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.settings
	if c.extra != nil {
		current.metadata = current.metadata.Merge(*c.extra)
	}
	return current
}

func (c *Client) registerMetrics(meter metric.Meter) {
	_, _ = meter.Int64ObservableGauge("apm.transport.queue.depth",
		metric.WithDescription("Events waiting to be sent"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(c.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("apm.transport.queue.dropped_total",
		metric.WithDescription("Events dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(c.Dropped()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("apm.transport.batches.sent_total",
		metric.WithDescription("Batches accepted by the collector"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(c.BatchesSent()))
			return nil
		}),
	)
}

// SendErrors returns how many sends failed.
func (c *Client) SendErrors() uint64 { return c.sendErrors.Load() }

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultBufferSize is the default capacity of the internal publish
// buffer drained by the background dispatcher.
const DefaultBufferSize = 1024

// Metrics receives counters the bus updates as it runs. Implementations
// typically forward to the observability component (C8); a nil Metrics
// is safe and simply drops the counts.
type Metrics interface {
	IncEventsPublished(subject string)
	IncEventsDropped(subject string)
}

type noopMetrics struct{}

func (noopMetrics) IncEventsPublished(string) {}
func (noopMetrics) IncEventsDropped(string)   {}

// Config configures a Bus.
type Config struct {
	Addr       string
	BufferSize int
	Metrics    Metrics
	Logger     *slog.Logger
}

// Bus publishes lifecycle event envelopes to Redis Pub/Sub. Publish
// never blocks on the network: envelopes are pushed onto a bounded
// channel and a single background goroutine drains it, re-dialing with
// exponential backoff on error. When the channel is full the oldest
// buffered envelope is dropped.
type Bus struct {
	client  *redis.Client
	metrics Metrics
	logger  *slog.Logger

	buf    chan Envelope
	connMu sync.Mutex
	closed chan struct{}
	wg     sync.WaitGroup

	connected atomic.Bool
}

// New constructs a Bus and starts its background dispatcher. Callers
// must call Close to stop the dispatcher and release the Redis client.
func New(cfg Config) *Bus {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		client:  redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		metrics: metrics,
		logger:  logger,
		buf:     make(chan Envelope, bufSize),
		closed:  make(chan struct{}),
	}

	b.wg.Add(1)
	go b.dispatchLoop()

	return b
}

// Publish enqueues an envelope for at-least-once delivery. It never
// blocks: if the buffer is full, the oldest queued envelope is dropped
// to make room and reported through Metrics.IncEventsDropped.
func (b *Bus) Publish(env Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	for {
		select {
		case b.buf <- env:
			return
		default:
		}

		select {
		case dropped := <-b.buf:
			b.metrics.IncEventsDropped(string(dropped.Subject))
			b.logger.Warn("event buffer full, dropping oldest", "subject", dropped.Subject, "run_id", dropped.RunID)
		default:
		}
	}
}

// IsConnected reports the last-observed Redis connectivity state, as
// recorded by the dispatcher's publishes and its idle-time PINGs. It does
// not contact Redis itself, so it is cheap enough for the health endpoint.
func (b *Bus) IsConnected() bool {
	return b.connected.Load()
}

// Close stops the dispatcher and closes the underlying Redis client.
func (b *Bus) Close() error {
	close(b.closed)
	b.wg.Wait()
	return b.client.Close()
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-b.closed:
			return
		case env := <-b.buf:
			// Retry the same envelope until it is published or the bus closes.
			for {
				err := b.publishOne(env)
				if err == nil {
					break
				}
				b.connected.Store(false)
				b.logger.Error("publish event failed, backing off", "subject", env.Subject, "error", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
				case <-b.closed:
					return
				}
				backoff = min(backoff*2, maxBackoff)
			}
			backoff = time.Second
			b.connected.Store(true)
			b.metrics.IncEventsPublished(string(env.Subject))
		case <-time.After(5 * time.Second):
			b.pingOnce()
		}
	}
}

func (b *Bus) publishOne(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Publish(ctx, env.Subject.channel(), payload).Err()
}

func (b *Bus) pingOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.connected.Store(b.client.Ping(ctx).Err() == nil)
}

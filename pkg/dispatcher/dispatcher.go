// Package dispatcher delivers ResultEnvelopes to the downstream HTTP
// callback sink with a bounded worker pool, fire-and-forget semantics,
// and no retry.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
	"github.com/riskstream/risk-worker/pkg/model"
)

const httpTimeout = 30 * time.Second

// Dispatcher owns a bounded pool of workers draining an unbounded,
// mutex-guarded queue of pending deliveries. Enqueue genuinely cannot
// block the caller: a slow or unavailable callback sink only grows the
// queue and trips the backpressure counter, it never stalls the
// broker-consumer goroutine that feeds it.
type Dispatcher struct {
	url       string
	client    *http.Client
	workers   int
	watermark int
	log       *logging.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []model.ResultEnvelope
	closed bool

	wg sync.WaitGroup
}

// New builds a Dispatcher with the given worker pool size. Start must be
// called to spin up its workers. watermark is the backpressure
// threshold, recommended at 10x the broker's prefetch count.
func New(cfg config.CallbackConfig, workers, watermark int, log *logging.Logger, m *metrics.Metrics) *Dispatcher {
	timeout := httpTimeout
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	d := &Dispatcher{
		url:       cfg.URL,
		client:    &http.Client{Timeout: timeout},
		workers:   workers,
		watermark: watermark,
		log:       log,
		metrics:   m,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the worker pool, each goroutine draining the shared
// queue until Drain closes it.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Enqueue appends env to the queue and wakes one worker. Past the
// backpressure watermark a warning fires, but the append itself never
// waits on anything.
func (d *Dispatcher) Enqueue(env model.ResultEnvelope) {
	d.mu.Lock()
	d.queue = append(d.queue, env)
	depth := len(d.queue)
	d.metrics.CallbackQueueDepth.Set(float64(depth))
	d.mu.Unlock()

	if depth > d.watermark {
		d.log.Warn("callback queue depth exceeds backpressure watermark", "depth", depth)
	}
	d.cond.Signal()
}

// dequeue blocks until an item is available or the dispatcher has been
// closed with an empty queue, in which case ok is false.
func (d *Dispatcher) dequeue() (env model.ResultEnvelope, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return model.ResultEnvelope{}, false
	}
	env = d.queue[0]
	d.queue = d.queue[1:]
	d.metrics.CallbackQueueDepth.Set(float64(len(d.queue)))
	return env, true
}

// Drain stops accepting the notion of new work arriving forever, wakes
// every worker so it can observe closure, and waits for in-flight and
// already-queued HTTP calls to finish, up to deadline.
func (d *Dispatcher) Drain(deadline time.Duration) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		d.log.Warn("dispatcher drain deadline exceeded, in-flight callbacks abandoned")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		env, ok := d.dequeue()
		if !ok {
			return
		}
		d.deliver(ctx, env)
	}
}

// deliver performs the HTTP POST and drops the result on any failure.
// There is no retry: the message has already been ack'd, and a durable
// retry would need local persistence this design deliberately omits.
func (d *Dispatcher) deliver(ctx context.Context, env model.ResultEnvelope) {
	body, err := json.Marshal(env)
	if err != nil {
		d.log.Error("failed to marshal result envelope", "error", err.Error())
		d.metrics.CallbackAttempts.WithLabelValues("marshal_error").Inc()
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		d.log.Error("failed to build callback request", "error", err.Error())
		d.metrics.CallbackAttempts.WithLabelValues("request_error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("callback delivery failed, dropping", "requestId", env.RequestID, "error", err.Error())
		d.metrics.CallbackAttempts.WithLabelValues("transport_error").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.log.Warn("callback returned non-2xx, dropping", "requestId", env.RequestID, "status", resp.StatusCode)
		d.metrics.CallbackAttempts.WithLabelValues("non_2xx").Inc()
		return
	}

	d.metrics.CallbackAttempts.WithLabelValues("success").Inc()
}

// Package broker subscribes to the AMQP broker, assembles inbound
// messages into size-or-age micro-batches, invokes the scoring kernel
// once per batch, and manages acknowledgement.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/riskstream/risk-worker/pkg/config"
	"github.com/riskstream/risk-worker/pkg/logging"
	"github.com/riskstream/risk-worker/pkg/metrics"
	"github.com/riskstream/risk-worker/pkg/model"
)

const (
	reconnectInitial = 5 * time.Second
	reconnectCap     = 60 * time.Second
	drainDeadline    = 30 * time.Second

	// batchQueueCapacity bounds the hand-off from the consumer goroutine
	// to the batch-executor goroutine, so a slow kernel call never grows
	// unbounded memory while still keeping broker I/O off the scoring path.
	batchQueueCapacity = 4
)

// Scorer is the subset of the Scoring Kernel the consumer needs. Defined
// here so the consumer can be tested without constructing a real kernel.
type Scorer interface {
	ScoreBatch(ctx context.Context, vectors [][]float64, requestIDs, subjectIDs []string) []model.ResultEnvelope
}

// Sink is the subset of the Callback Dispatcher the consumer needs.
type Sink interface {
	Enqueue(model.ResultEnvelope)
}

// batchJob is one drained batch handed off from the consumer goroutine to
// the batch-executor goroutine. channel is captured at hand-off time so
// the executor always acks on the connection the messages were delivered
// over, even if the consumer has since reconnected.
type batchJob struct {
	items   []pendingItem
	channel *amqp.Channel
}

// Consumer subscribes to one durable queue and drives the batch
// pipeline. One goroutine owns the AMQP channel's delivery stream and
// the micro-batch buffer; a separate batch-executor goroutine performs
// the scoring kernel call (and the network round trip to the vector
// index inside it) so a slow batch never stalls delivery reads or acks.
type Consumer struct {
	cfg     config.BrokerConfig
	batch   config.BatchConfig
	scorer  Scorer
	sink    Sink
	log     *logging.Logger
	metrics *metrics.Metrics

	state   atomic.Int32
	conn    *amqp.Connection
	channel *amqp.Channel

	batcher   *batcher
	batchCh   chan batchJob
	execWG    sync.WaitGroup
	stopOnce  sync.Once
	stoppedCh chan struct{}
}

// New constructs a Consumer. Connect must be called before Run.
func New(cfg config.BrokerConfig, batch config.BatchConfig, scorer Scorer, sink Sink, log *logging.Logger, m *metrics.Metrics) *Consumer {
	c := &Consumer{
		cfg:       cfg,
		batch:     batch,
		scorer:    scorer,
		sink:      sink,
		log:       log,
		metrics:   m,
		batcher:   newBatcher(batch.Size, time.Duration(batch.TimeoutMs)*time.Millisecond),
		batchCh:   make(chan batchJob, batchQueueCapacity),
		stoppedCh: make(chan struct{}),
	}
	c.state.Store(int32(StateInit))
	return c
}

// State returns the consumer's current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Stopped closes once the consumer reaches StateStopped.
func (c *Consumer) Stopped() <-chan struct{} {
	return c.stoppedCh
}

// Connect opens the AMQP connection and channel and declares the
// exchange, queue and binding idempotently. Retries with exponential
// backoff (5s initial, 60s cap) until ctx is cancelled.
func (c *Consumer) Connect(ctx context.Context) error {
	backoff := reconnectInitial
	for {
		err := c.dial()
		if err == nil {
			return nil
		}
		c.log.Warn("broker connect failed, retrying", "error", err.Error(), "backoff", backoff.String())
		c.metrics.BrokerReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

func (c *Consumer) dial() error {
	conn, err := amqp.Dial(c.cfg.AMQPURL())
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	return nil
}

// Run starts the batch-executor goroutine and drives the subscription
// loop until ctx is cancelled or Drain is called. It blocks until the
// consumer reaches Stopped, transparently reconnecting on a
// channel-level broker failure.
func (c *Consumer) Run(ctx context.Context) error {
	go c.executorLoop(ctx)

	for {
		stop, err := c.runOnce(ctx)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		c.log.Warn("broker channel closed, reconnecting")
		c.metrics.BrokerReconnects.Inc()
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
}

// runOnce drives the pipeline over one AMQP channel until it closes,
// ctx is cancelled, or Drain completes. stop is true once the consumer
// has reached Stopped and Run should return rather than reconnect. This
// goroutine only ever reads deliveries, buffers them, and hands drained
// batches off to the executor — it never itself calls the scoring kernel.
func (c *Consumer) runOnce(ctx context.Context) (stop bool, err error) {
	deliveries, err := c.channel.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return false, err
	}

	closedCh := c.channel.NotifyClose(make(chan *amqp.Error, 1))

	c.state.Store(int32(StateRunning))
	c.log.Info("batch consumer running", "queue", c.cfg.Queue)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Drain(context.Background())
			return true, nil

		case <-closedCh:
			return false, nil

		case <-c.stoppedCh:
			return true, nil

		case d, ok := <-deliveries:
			if !ok {
				continue
			}
			c.handleDelivery(d)

		case <-ticker.C:
			if c.batcher.ageExceeded() {
				c.fireBatch()
			}
		}
	}
}

func (c *Consumer) handleDelivery(d amqp.Delivery) {
	c.metrics.BrokerMessagesConsumed.Inc()

	env, err := decodePayload(d.Body)
	if err != nil {
		c.sink.Enqueue(model.NewErrorEnvelope("", "", "malformed payload: "+err.Error()))
		c.ackSingle(d)
		return
	}

	if len(env.Vector) != model.FeatureDims {
		c.sink.Enqueue(model.NewErrorEnvelope(env.RequestID, env.SubjectID, "dimension mismatch"))
		c.ackSingle(d)
		return
	}

	fire := c.batcher.add(pendingItem{
		vector:      env.Vector,
		requestID:   env.RequestID,
		subjectID:   env.SubjectID,
		deliveryTag: d.DeliveryTag,
	})
	if fire {
		c.fireBatch()
	}
}

// fireBatch extracts the current buffer and hands it off to the
// batch-executor goroutine. The hand-off prefers a non-blocking send;
// once the bounded queue is genuinely backed up it falls back to a
// blocking send rather than silently dropping a batch whose deliveries
// have already been read off the broker.
func (c *Consumer) fireBatch() {
	items := c.batcher.drain()
	if len(items) == 0 {
		return
	}

	job := batchJob{items: items, channel: c.channel}
	c.execWG.Add(1)
	select {
	case c.batchCh <- job:
	default:
		c.log.Warn("batch executor backlog full, consumer blocking on hand-off")
		c.batchCh <- job
	}
}

// executorLoop is the batch-executor fiber: it owns every scoring-kernel
// call (and the vector-index round trip inside it), kept off the
// goroutine that reads broker deliveries and must keep acking promptly.
func (c *Consumer) executorLoop(ctx context.Context) {
	for job := range c.batchCh {
		c.runBatch(ctx, job)
		c.execWG.Done()
	}
}

// runBatch scores one batch, dispatches every result, then acks every
// delivery tag unconditionally on callback outcome — the dispatcher owns
// retry. The kernel never throws, but a panic recovery here is the
// documented defensive fallback: nack the whole batch with requeue so
// the broker redelivers it.
func (c *Consumer) runBatch(ctx context.Context, job batchJob) {
	results, ok := c.scoreSafely(ctx, job.items)
	if !ok {
		c.nackAll(job.channel, job.items)
		return
	}

	for i, item := range job.items {
		c.sink.Enqueue(results[i])
		if results[i].Status == model.StatusError {
			c.metrics.ScoringErrors.Inc()
		}
		if err := job.channel.Ack(item.deliveryTag, false); err != nil {
			c.log.Error("ack failed", "deliveryTag", item.deliveryTag, "error", err.Error())
		}
	}
}

func (c *Consumer) scoreSafely(ctx context.Context, items []pendingItem) (results []model.ResultEnvelope, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("scoring kernel panicked, batch will be nacked for redelivery", "panic", r)
			ok = false
		}
	}()

	start := time.Now()
	results = c.scorer.ScoreBatch(ctx, toVectors(items), toRequestIDs(items), toSubjectIDs(items))
	c.metrics.BatchLatency.Observe(time.Since(start).Seconds())
	c.metrics.BatchSize.Observe(float64(len(items)))
	return results, true
}

func (c *Consumer) ackSingle(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.log.Error("ack failed", "deliveryTag", d.DeliveryTag, "error", err.Error())
	}
}

func (c *Consumer) nackAll(ch *amqp.Channel, items []pendingItem) {
	for _, item := range items {
		if err := ch.Nack(item.deliveryTag, false, true); err != nil {
			c.log.Error("nack failed", "deliveryTag", item.deliveryTag, "error", err.Error())
		}
	}
}

// Drain moves the consumer to Draining, waits for the in-flight buffer to
// be flushed, hands any remainder to the executor, and waits (up to the
// drain deadline, applied separately to buffer-flush and executor-wait)
// for outstanding batches to finish before transitioning to Stopped.
// Deliveries that arrive while draining are still read and buffered;
// any left in the buffer at Stopped are not acked.
func (c *Consumer) Drain(ctx context.Context) {
	c.state.Store(int32(StateDraining))

	deadline := time.NewTimer(drainDeadline)
	defer deadline.Stop()

flush:
	for !c.batcher.empty() {
		select {
		case <-deadline.C:
			c.log.Warn("drain deadline exceeded with items still buffered")
			break flush
		case <-time.After(10 * time.Millisecond):
		}
	}
	c.fireBatch()
	c.waitForExecutors(ctx, drainDeadline)

	c.state.Store(int32(StateStopped))
	c.stopOnce.Do(func() { close(c.stoppedCh) })
}

// waitForExecutors blocks until every handed-off batch has been scored
// and acked, ctx is cancelled, or timeout elapses.
func (c *Consumer) waitForExecutors(ctx context.Context, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.execWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("executor drain interrupted by context cancellation, outstanding batches abandoned")
	case <-time.After(timeout):
		c.log.Warn("executor drain deadline exceeded, outstanding batches abandoned")
	}
}

// Close releases the AMQP channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

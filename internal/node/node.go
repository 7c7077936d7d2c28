// Package node drives one agent's engine: it feeds inbound bundles,
// periodic ticks and local commands through a single run loop.
package node

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/engine"
)

// DefaultTickInterval is the period between scheduled task runs.
const DefaultTickInterval = 30 * time.Second

// ErrStopped is returned by Do once the node has stopped.
var ErrStopped = errors.New("node stopped")

// Subscriber delivers signals as they arrive. *transport.Redis
// implements it.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan channel.Inbound, error)
}

// Mailbox drains durable messages. *transport.Redis and
// *testutil.Endpoint implement it.
type Mailbox interface {
	Poll(ctx context.Context) ([]channel.Inbound, error)
}

// Node serializes all work for one engine.
type Node struct {
	engine     *engine.Engine
	subscriber Subscriber
	mailbox    Mailbox
	tick       time.Duration
	logger     *slog.Logger
	queue      *workQueue
}

// Option configures a Node.
type Option func(*Node)

// WithSubscriber sets the live signal source.
func WithSubscriber(s Subscriber) Option {
	return func(n *Node) { n.subscriber = s }
}

// WithMailbox sets the durable mailbox polled on every tick.
func WithMailbox(m Mailbox) Option {
	return func(n *Node) { n.mailbox = m }
}

// WithTickInterval overrides DefaultTickInterval. Zero or negative
// disables the ticker; ticks can still be requested with Tick.
func WithTickInterval(d time.Duration) Option {
	return func(n *Node) { n.tick = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// New creates a Node around eng.
func New(eng *engine.Engine, opts ...Option) *Node {
	n := &Node{
		engine: eng,
		tick:   DefaultTickInterval,
		logger: slog.Default(),
		queue:  newWorkQueue(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("agent", eng.Self().Short())
	return n
}

// Engine returns the wrapped engine.
func (n *Node) Engine() *engine.Engine { return n.engine }

// Tick requests a poll and a scheduled task run. Pending requests are
// coalesced.
func (n *Node) Tick() {
	n.queue.EnqueueUnique(work{kind: workPoll})
	n.queue.EnqueueUnique(work{kind: workTick})
}

// Deliver queues an inbound bundle.
func (n *Node) Deliver(in channel.Inbound) bool {
	return n.queue.Enqueue(work{kind: workInbound, inbound: in})
}

// Do runs fn on the run loop and waits for its result.
func (n *Node) Do(ctx context.Context, fn func(ctx context.Context, eng *engine.Engine) error) error {
	done := make(chan error, 1)
	w := work{
		kind:    workCommand,
		command: func(ctx context.Context) error { return fn(ctx, n.engine) },
		done:    done,
	}
	if !n.queue.Enqueue(w) {
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes work until ctx is cancelled or Stop is called.
// The subscription and the ticker only enqueue; every engine call happens
// on this goroutine.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("node starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if n.subscriber != nil {
		signals, err := n.subscriber.Subscribe(ctx)
		if err != nil {
			return err
		}
		go n.pumpSignals(ctx, signals)
	}
	if n.tick > 0 {
		go n.runTicker(ctx)
	}

	// Catch up on anything that arrived while offline.
	n.Tick()

	for {
		w, ok := n.queue.TryDequeue()
		if ok {
			n.process(ctx, w)
			continue
		}

		select {
		case <-ctx.Done():
			n.logger.Info("node stopping: context cancelled")
			n.queue.Close()
			n.drainCommands(ErrStopped)
			return ctx.Err()

		case _, open := <-n.queue.Wait():
			// A buffered wake can outlive the items it announced; only a
			// closed and empty queue ends the loop.
			if !open && n.queue.Len() == 0 {
				n.logger.Info("node stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued work is processed.
func (n *Node) Stop() {
	n.queue.Close()
}

func (n *Node) pumpSignals(ctx context.Context, signals <-chan channel.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-signals:
			if !ok {
				return
			}
			if !n.Deliver(in) {
				return
			}
		}
	}
}

func (n *Node) runTicker(ctx context.Context) {
	t := time.NewTicker(n.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.Tick()
		}
	}
}

// process handles one unit of work. Errors are logged and the loop
// continues; the engine persists enough state to retry on the next tick.
func (n *Node) process(ctx context.Context, w work) {
	run := uuid.NewString()
	log := n.logger.With("work", w.kind.String(), "run", run)

	var err error
	switch w.kind {
	case workTick:
		err = n.engine.ScheduledTasks(ctx)

	case workPoll:
		err = n.poll(ctx)

	case workInbound:
		log = log.With("from", w.inbound.From.Short(), "message", w.inbound.MessageID)
		err = n.engine.Receive(ctx, w.inbound.From, w.inbound.Message)

	case workCommand:
		err = w.command(ctx)
		w.done <- err
		if err != nil {
			log.Debug("command failed", "error", err)
		}
		return
	}

	if err != nil {
		log.Warn("work failed", "error", err)
		return
	}
	log.Debug("work done")
}

func (n *Node) poll(ctx context.Context) error {
	if n.mailbox == nil {
		return nil
	}
	inbound, err := n.mailbox.Poll(ctx)
	if err != nil {
		return err
	}
	for _, in := range inbound {
		n.queue.Enqueue(work{kind: workInbound, inbound: in})
	}
	return nil
}

// drainCommands fails commands still waiting after shutdown.
func (n *Node) drainCommands(err error) {
	for {
		w, ok := n.queue.TryDequeue()
		if !ok {
			return
		}
		if w.kind == workCommand {
			w.done <- err
		}
	}
}

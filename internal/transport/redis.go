package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
)

// signalFrame is the pub/sub payload: the sender in clear so the
// recipient can pick the right key, the bundle sealed for the recipient.
type signalFrame struct {
	Sender  ir.AgentID `cbor:"sender"`
	Payload []byte     `cbor:"payload"`
}

// Options configures a Redis transport.
type Options struct {
	Keys Keys
	// Durable enables the mailbox path. When false SendDurable returns
	// ErrUnavailable and Poll returns nothing.
	Durable bool
	// RatePerSecond and Burst bound outbound durable posts. Zero disables
	// limiting.
	RatePerSecond float64
	Burst         int
	// BlobTTL expires stored blobs; zero keeps them.
	BlobTTL time.Duration
	// ChannelOptions are passed to the encrypted channel.
	ChannelOptions []channel.Option
	Logger         *slog.Logger
}

// Redis implements signals over pub/sub and durable messages over a
// Redis mailbox.
type Redis struct {
	client  redis.UniversalClient
	keys    Keys
	durable bool
	ch      *channel.Channel
	limiter *rate.Limiter
	logger  *slog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedis creates a transport for the agent owning keys.
func NewRedis(client redis.UniversalClient, keys channel.Keys, opts Options) *Redis {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var mailbox channel.Mailbox
	if opts.Durable {
		mailbox = NewRedisMailbox(client, opts.Keys, opts.BlobTTL)
	}
	chOpts := append([]channel.Option{channel.WithLogger(logger)}, opts.ChannelOptions...)

	t := &Redis{
		client:  client,
		keys:    opts.Keys,
		durable: opts.Durable,
		ch:      channel.New(keys, mailbox, chOpts...),
		logger:  logger,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return t
}

// SendSignal publishes msg to every recipient currently subscribed.
// Failures for individual recipients are joined; nothing is retried.
func (t *Redis) SendSignal(ctx context.Context, msg ir.Message, recipients ir.AgentSet) error {
	var errs []error
	for _, r := range recipients {
		sealed, err := t.ch.SealMessage(r, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", r.Short(), err))
			continue
		}
		frame, err := codec.Marshal(signalFrame{Sender: t.ch.Self(), Payload: sealed})
		if err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", r.Short(), err))
			continue
		}
		if err := t.client.Publish(ctx, t.keys.Signal(r), frame).Err(); err != nil {
			errs = append(errs, fmt.Errorf("signal %s: %w", r.Short(), err))
		}
	}
	return errors.Join(errs...)
}

// SendDurable posts msg to every recipient's mailbox under messageID.
func (t *Redis) SendDurable(ctx context.Context, msg ir.Message, recipients ir.AgentSet, messageID string) error {
	if !t.durable {
		return ErrUnavailable
	}
	var errs []error
	for _, r := range recipients {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
		if err := t.ch.Post(ctx, r, messageID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll drains this agent's mailbox.
func (t *Redis) Poll(ctx context.Context) ([]channel.Inbound, error) {
	if !t.durable {
		return nil, nil
	}
	return t.ch.Collect(ctx)
}

// Subscribe listens on this agent's signal channel. The returned channel
// closes when ctx is cancelled or the transport is closed. Frames that do
// not decrypt are logged and skipped.
func (t *Redis) Subscribe(ctx context.Context) (<-chan channel.Inbound, error) {
	ps := t.client.Subscribe(ctx, t.keys.Signal(t.ch.Self()))
	// Wait for the subscription confirmation so no signal published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	t.mu.Lock()
	t.subs = append(t.subs, ps)
	t.mu.Unlock()

	out := make(chan channel.Inbound)
	go func() {
		defer close(out)
		for {
			m, err := ps.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				t.logger.Warn("signal receive error", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			in, ok := t.decodeSignal([]byte(m.Payload))
			if !ok {
				continue
			}
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *Redis) decodeSignal(payload []byte) (channel.Inbound, bool) {
	var frame signalFrame
	if err := codec.Unmarshal(payload, &frame); err != nil {
		t.logger.Warn("ignoring malformed signal", "error", err)
		return channel.Inbound{}, false
	}
	msg, err := t.ch.OpenMessage(frame.Sender, frame.Payload)
	if err != nil {
		t.logger.Warn("ignoring undecodable signal", "sender", frame.Sender.Short(), "error", err)
		return channel.Inbound{}, false
	}
	return channel.Inbound{From: frame.Sender, Message: msg}, true
}

// Close terminates all subscriptions. The Redis client is owned by the
// caller and stays open.
func (t *Redis) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, ps := range t.subs {
		errs = append(errs, ps.Close())
	}
	t.subs = nil
	return errors.Join(errs...)
}

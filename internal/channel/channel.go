// Package channel turns a Message bundle into ciphertext for one recipient
// and back.
//
// Outbound plaintext is split into fixed-size chunks, each sealed
// separately with NaCl box. The chunk list is CBOR-encoded; when the
// encoding exceeds the inline threshold it is stored as a blob and the
// mailbox pointer references it, otherwise it rides inline in the pointer.
//
// Inbound, Collect reverses the process. Anything that fails to decode or
// decrypt is logged and dropped: a pointer may be stale or superseded, and
// one bad pointer must not block the rest of the mailbox.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
)

// Defaults observed in deployed networks.
const (
	DefaultChunkSize       = 2000
	DefaultInlineThreshold = 900
)

// Keys is the key material the channel needs.
type Keys interface {
	ID() ir.AgentID
	Seal(recipient ir.AgentID, plaintext []byte) ([]byte, error)
	Open(sender ir.AgentID, ciphertext []byte) ([]byte, error)
}

// EncryptedMessage is the ciphertext form of a payload: one sealed box per
// plaintext chunk, in order.
type EncryptedMessage struct {
	Chunks [][]byte `cbor:"chunks"`
}

// Inbound is a decrypted, decoded bundle picked up from the mailbox.
type Inbound struct {
	From      ir.AgentID
	MessageID string
	Message   ir.Message
}

// Channel encrypts for and decrypts from peers.
type Channel struct {
	keys            Keys
	mailbox         Mailbox
	chunkSize       int
	inlineThreshold int
	ids             IDGenerator
	logger          *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithChunkSize sets the plaintext bytes per sealed chunk.
func WithChunkSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithInlineThreshold sets the largest encoded message kept inline.
func WithInlineThreshold(n int) Option {
	return func(c *Channel) {
		if n >= 0 {
			c.inlineThreshold = n
		}
	}
}

// WithIDGenerator replaces the UUIDv7 pointer id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Channel) { c.ids = g }
}

// WithLogger sets the logger for dropped pointers.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a channel over keys and mailbox. mailbox may be nil when
// only Encrypt/Decrypt are used (the signal path).
func New(keys Keys, mailbox Mailbox, opts ...Option) *Channel {
	c := &Channel{
		keys:            keys,
		mailbox:         mailbox,
		chunkSize:       DefaultChunkSize,
		inlineThreshold: DefaultInlineThreshold,
		ids:             UUIDv7Generator{},
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns the agent id of the local keys.
func (c *Channel) Self() ir.AgentID { return c.keys.ID() }

// ErrNoMailbox is returned by Post and Collect on a channel built without one.
var ErrNoMailbox = errors.New("channel: no mailbox configured")

// Encrypt chunks plaintext and seals each chunk for recipient.
// Empty plaintext yields a single empty chunk so the sender stays
// authenticated.
func (c *Channel) Encrypt(recipient ir.AgentID, plaintext []byte) (EncryptedMessage, error) {
	chunks := split(plaintext, c.chunkSize)
	out := EncryptedMessage{Chunks: make([][]byte, 0, len(chunks))}
	for i, chunk := range chunks {
		sealed, err := c.keys.Seal(recipient, chunk)
		if err != nil {
			return EncryptedMessage{}, fmt.Errorf("encrypt chunk %d: %w", i, err)
		}
		out.Chunks = append(out.Chunks, sealed)
	}
	return out, nil
}

// Decrypt opens every chunk from sender and concatenates them.
func (c *Channel) Decrypt(sender ir.AgentID, msg EncryptedMessage) ([]byte, error) {
	if len(msg.Chunks) == 0 {
		return nil, fmt.Errorf("decrypt: no chunks")
	}
	var out []byte
	for i, chunk := range msg.Chunks {
		plain, err := c.keys.Open(sender, chunk)
		if err != nil {
			return nil, fmt.Errorf("decrypt chunk %d: %w", i, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// SealMessage encodes and encrypts a bundle for recipient, returning the
// CBOR bytes of the EncryptedMessage.
func (c *Channel) SealMessage(recipient ir.AgentID, msg ir.Message) ([]byte, error) {
	plaintext, err := codec.Marshal(msg)
	if err != nil {
		return nil, err
	}
	enc, err := c.Encrypt(recipient, plaintext)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(enc)
}

// OpenMessage reverses SealMessage.
func (c *Channel) OpenMessage(sender ir.AgentID, data []byte) (ir.Message, error) {
	var enc EncryptedMessage
	if err := codec.Unmarshal(data, &enc); err != nil {
		return ir.Message{}, err
	}
	plaintext, err := c.Decrypt(sender, enc)
	if err != nil {
		return ir.Message{}, err
	}
	var msg ir.Message
	if err := codec.Unmarshal(plaintext, &msg); err != nil {
		return ir.Message{}, err
	}
	return msg, nil
}

// Post seals msg for recipient and leaves it in the mailbox under
// messageID. Posting the same messageID again replaces the pending copy.
func (c *Channel) Post(ctx context.Context, recipient ir.AgentID, messageID string, msg ir.Message) error {
	if c.mailbox == nil {
		return ErrNoMailbox
	}
	data, err := c.SealMessage(recipient, msg)
	if err != nil {
		return fmt.Errorf("post to %s: %w", recipient.Short(), err)
	}

	p := Pointer{
		ID:        c.ids.Generate(),
		Sender:    c.keys.ID(),
		Recipient: recipient,
		MessageID: messageID,
	}
	if len(data) > c.inlineThreshold {
		p.BlobID = ir.HashBlob(data)
		if err := c.mailbox.PutBlob(ctx, p.BlobID, data); err != nil {
			return fmt.Errorf("post to %s: blob: %w", recipient.Short(), err)
		}
	} else {
		p.Inline = data
	}
	if err := c.mailbox.PutPointer(ctx, p); err != nil {
		return fmt.Errorf("post to %s: pointer: %w", recipient.Short(), err)
	}
	return nil
}

// Collect drains this agent's mailbox. Pointers whose blob is not yet
// visible are kept for the next poll; undecodable ones are dropped.
func (c *Channel) Collect(ctx context.Context) ([]Inbound, error) {
	if c.mailbox == nil {
		return nil, ErrNoMailbox
	}
	me := c.keys.ID()
	pointers, err := c.mailbox.Pointers(ctx, me)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	var out []Inbound
	for _, p := range pointers {
		data := p.Inline
		if p.BlobID != "" {
			blob, found, err := c.mailbox.GetBlob(ctx, p.BlobID)
			if err != nil {
				return out, fmt.Errorf("collect: blob %s: %w", p.BlobID, err)
			}
			if !found {
				c.logger.Debug("mailbox blob not yet visible", "pointer", p.ID, "blob", p.BlobID)
				continue
			}
			data = blob
		}

		msg, err := c.OpenMessage(p.Sender, data)
		if err != nil {
			c.logger.Warn("ignoring undecodable mailbox message",
				"pointer", p.ID,
				"sender", p.Sender.Short(),
				"message_id", p.MessageID,
				"error", err)
		} else {
			out = append(out, Inbound{From: p.Sender, MessageID: p.MessageID, Message: msg})
		}

		if err := c.mailbox.DeletePointer(ctx, p); err != nil {
			return out, fmt.Errorf("collect: delete pointer %s: %w", p.ID, err)
		}
	}
	return out, nil
}

// split cuts b into pieces of at most size bytes.
func split(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > size {
		chunks = append(chunks, b[:size])
		b = b[size:]
	}
	return append(chunks, b)
}

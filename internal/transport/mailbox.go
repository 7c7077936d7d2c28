package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
)

// pointerSep separates the pointer id from its CBOR body in a hash value,
// letting the delete script compare ids without decoding CBOR.
const pointerSep = '\n'

// deletePointerScript removes a mailbox slot only if it still holds the
// given pointer id.
// KEYS[1] = mailbox hash
// ARGV[1] = slot
// ARGV[2] = pointer id
var deletePointerScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
    return 0
end
local prefix = ARGV[2] .. "\n"
if string.sub(v, 1, string.len(prefix)) == prefix then
    return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// RedisMailbox implements channel.Mailbox on Redis hashes and strings.
type RedisMailbox struct {
	client  redis.UniversalClient
	keys    Keys
	blobTTL time.Duration
}

// NewRedisMailbox creates a mailbox. blobTTL of zero keeps blobs forever.
func NewRedisMailbox(client redis.UniversalClient, keys Keys, blobTTL time.Duration) *RedisMailbox {
	return &RedisMailbox{client: client, keys: keys, blobTTL: blobTTL}
}

func (m *RedisMailbox) PutBlob(ctx context.Context, id string, data []byte) error {
	if err := m.client.SetNX(ctx, m.keys.Blob(id), data, m.blobTTL).Err(); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (m *RedisMailbox) GetBlob(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := m.client.Get(ctx, m.keys.Blob(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob: %w", err)
	}
	return data, true, nil
}

func (m *RedisMailbox) PutPointer(ctx context.Context, p channel.Pointer) error {
	body, err := codec.Marshal(p)
	if err != nil {
		return fmt.Errorf("put pointer: %w", err)
	}
	value := make([]byte, 0, len(p.ID)+1+len(body))
	value = append(value, p.ID...)
	value = append(value, pointerSep)
	value = append(value, body...)
	if err := m.client.HSet(ctx, m.keys.Mailbox(p.Recipient), p.Slot(), value).Err(); err != nil {
		return fmt.Errorf("put pointer: %w", err)
	}
	return nil
}

func (m *RedisMailbox) Pointers(ctx context.Context, recipient ir.AgentID) ([]channel.Pointer, error) {
	fields, err := m.client.HGetAll(ctx, m.keys.Mailbox(recipient)).Result()
	if err != nil {
		return nil, fmt.Errorf("list pointers: %w", err)
	}
	slots := make([]string, 0, len(fields))
	for slot := range fields {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	out := make([]channel.Pointer, 0, len(slots))
	for _, slot := range slots {
		raw := []byte(fields[slot])
		i := bytes.IndexByte(raw, pointerSep)
		if i < 0 {
			continue
		}
		var p channel.Pointer
		if err := codec.Unmarshal(raw[i+1:], &p); err != nil {
			// Skip slots written by an incompatible peer.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *RedisMailbox) DeletePointer(ctx context.Context, p channel.Pointer) error {
	err := deletePointerScript.Run(ctx, m.client, []string{m.keys.Mailbox(p.Recipient)}, p.Slot(), p.ID).Err()
	if err != nil {
		return fmt.Errorf("delete pointer: %w", err)
	}
	return nil
}

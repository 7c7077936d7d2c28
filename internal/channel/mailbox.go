package channel

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/privlog/internal/ir"
)

// Pointer is a mailbox entry addressed to one recipient. It carries the
// encoded EncryptedMessage inline when small, or references a blob.
type Pointer struct {
	ID        string     `cbor:"id"`
	Sender    ir.AgentID `cbor:"sender"`
	Recipient ir.AgentID `cbor:"recipient"`
	MessageID string     `cbor:"message_id"`
	Inline    []byte     `cbor:"inline,omitempty"`
	BlobID    string     `cbor:"blob_id,omitempty"`
}

// Slot is the dedup key of a pointer within a recipient's mailbox: a
// resend of the same logical message replaces the pending pointer.
func (p Pointer) Slot() string {
	return string(p.Sender) + "/" + p.MessageID
}

// Mailbox persists pointers and blobs until the recipient polls.
type Mailbox interface {
	// PutBlob stores an immutable blob under its content id.
	PutBlob(ctx context.Context, id string, data []byte) error
	// GetBlob returns a blob, or found=false if it is not (yet) present.
	GetBlob(ctx context.Context, id string) (data []byte, found bool, err error)
	// PutPointer stores p, replacing any pending pointer in the same slot.
	PutPointer(ctx context.Context, p Pointer) error
	// Pointers lists the pending pointers of recipient, ordered by slot.
	Pointers(ctx context.Context, recipient ir.AgentID) ([]Pointer, error)
	// DeletePointer removes p only if its slot still holds p.ID, so a
	// newer pointer posted meanwhile survives.
	DeletePointer(ctx context.Context, p Pointer) error
}

// MemoryMailbox is an in-process Mailbox shared by agents of one process.
// Used by tests and the scenario harness.
type MemoryMailbox struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	pointers map[ir.AgentID]map[string]Pointer
}

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{
		blobs:    make(map[string][]byte),
		pointers: make(map[ir.AgentID]map[string]Pointer),
	}
}

func (m *MemoryMailbox) PutBlob(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = slices.Clone(data)
	}
	return nil
}

func (m *MemoryMailbox) GetBlob(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[id]
	return slices.Clone(data), ok, nil
}

func (m *MemoryMailbox) PutPointer(_ context.Context, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.pointers[p.Recipient]
	if !ok {
		box = make(map[string]Pointer)
		m.pointers[p.Recipient] = box
	}
	box[p.Slot()] = p
	return nil
}

func (m *MemoryMailbox) Pointers(_ context.Context, recipient ir.AgentID) ([]Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.pointers[recipient]
	out := make([]Pointer, 0, len(box))
	for _, slot := range slices.Sorted(maps.Keys(box)) {
		out = append(out, box[slot])
	}
	return out, nil
}

func (m *MemoryMailbox) DeletePointer(_ context.Context, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.pointers[p.Recipient]
	if cur, ok := box[p.Slot()]; ok && cur.ID == p.ID {
		delete(box, p.Slot())
	}
	return nil
}

// Pending counts pointers waiting for recipient.
func (m *MemoryMailbox) Pending(recipient ir.AgentID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pointers[recipient])
}

// Package notes is a small private sharing application on top of the
// engine: agents add friends and share entries with all of them.
//
// AddFriend changes who sees earlier entries, so it implements
// engine.RecipientsChanger. SharedEntry may reply to another entry, which
// makes it depend on that entry being present.
package notes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

const (
	TypeSharedEntry = "SharedEntry"
	TypeAddFriend   = "AddFriend"

	// MaxContentLength bounds a shared entry, in runes.
	MaxContentLength = 10_000
)

// SharedEntry is content shared with every friend of its author.
type SharedEntry struct {
	Content string     `cbor:"content" json:"content"`
	ReplyTo ir.EventID `cbor:"reply_to,omitempty" json:"reply_to,omitempty"`

	feed *Feed
}

func (SharedEntry) EventType() string { return TypeSharedEntry }

func (s SharedEntry) Validate(ctx context.Context, v engine.View, _ ir.AgentID, _ ir.Timestamp) engine.Verdict {
	if strings.TrimSpace(s.Content) == "" {
		return engine.Invalid("shared entry is empty")
	}
	if n := utf8.RuneCountInString(s.Content); n > MaxContentLength {
		return engine.Invalid(fmt.Sprintf("shared entry has %d runes, limit %d", n, MaxContentLength))
	}
	if s.ReplyTo == "" {
		return engine.Valid()
	}
	parent, found, err := v.GetPrivateEvent(ctx, s.ReplyTo)
	if err != nil {
		return engine.Invalid(err.Error())
	}
	if !found {
		return engine.Unresolved(s.ReplyTo)
	}
	if parent.Event.EventType != TypeSharedEntry {
		return engine.Invalid(fmt.Sprintf("reply target is a %s", parent.Event.EventType))
	}
	return engine.Valid()
}

func (SharedEntry) Recipients(ctx context.Context, v engine.View, author ir.AgentID, _ ir.Timestamp) (ir.AgentSet, error) {
	return Friends(ctx, v, author)
}

func (s SharedEntry) PostCommit(_ context.Context, _ engine.View, id ir.EventID, entry ir.PrivateEventEntry) error {
	if s.feed != nil {
		s.feed.add(Item{ID: id, Author: entry.Author, Timestamp: entry.Timestamp(), Content: s.Content, ReplyTo: s.ReplyTo})
	}
	return nil
}

// AddFriend makes Friend a recipient of every entry its author shares,
// including earlier ones.
type AddFriend struct {
	Friend ir.AgentID `cbor:"friend" json:"friend"`
}

func (AddFriend) EventType() string { return TypeAddFriend }

func (a AddFriend) Validate(_ context.Context, _ engine.View, author ir.AgentID, _ ir.Timestamp) engine.Verdict {
	if _, err := ir.ParseAgentID(string(a.Friend)); err != nil {
		return engine.Invalid(fmt.Sprintf("friend: %v", err))
	}
	if a.Friend == author {
		return engine.Invalid("an agent cannot befriend itself")
	}
	return engine.Valid()
}

func (a AddFriend) Recipients(context.Context, engine.View, ir.AgentID, ir.Timestamp) (ir.AgentSet, error) {
	return ir.NewAgentSet(a.Friend), nil
}

func (AddFriend) ChangesRecipients() bool { return true }

// Friends lists the agents author has added, as known locally.
func Friends(ctx context.Context, v engine.View, author ir.AgentID) (ir.AgentSet, error) {
	stored, err := v.PrivateEvents(ctx, store.EventFilter{EventType: TypeAddFriend, Author: author})
	if err != nil {
		return nil, fmt.Errorf("friends of %s: %w", author.Short(), err)
	}
	friends := make([]ir.AgentID, 0, len(stored))
	for _, s := range stored {
		ev, err := v.Decode(s.Entry)
		if err != nil {
			continue
		}
		if add, ok := ev.(*AddFriend); ok {
			friends = append(friends, add.Friend)
		}
	}
	return ir.NewAgentSet(friends...), nil
}

// Item is one admitted shared entry.
type Item struct {
	ID        ir.EventID   `json:"id"`
	Author    ir.AgentID   `json:"author"`
	Timestamp ir.Timestamp `json:"timestamp"`
	Content   string       `json:"content"`
	ReplyTo   ir.EventID   `json:"reply_to,omitempty"`
}

// Feed collects shared entries as they are admitted.
//
// Thread-safety: safe for concurrent use.
type Feed struct {
	mu    sync.Mutex
	items []Item
}

func (f *Feed) add(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, it)
}

// Items returns admitted entries in admission order.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// Register adds the notes event types to r. Admitted shared entries are
// appended to feed when it is non-nil.
func Register(r *engine.Registry, feed *Feed) {
	r.Register(TypeSharedEntry, func() engine.PrivateEvent { return &SharedEntry{feed: feed} })
	r.Register(TypeAddFriend, func() engine.PrivateEvent { return &AddFriend{} })
}

// NewRegistry returns a registry holding only the notes types.
func NewRegistry(feed *Feed) *engine.Registry {
	r := engine.NewRegistry()
	Register(r, feed)
	return r
}

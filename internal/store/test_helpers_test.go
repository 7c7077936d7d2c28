package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/privlog/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent builds an unsigned entry; the store never checks signatures.
func createTestEvent(author ir.AgentID, eventType string, ts ir.Timestamp) (ir.EventID, ir.PrivateEventEntry) {
	e := ir.PrivateEventEntry{
		Author:    author,
		Signature: []byte(fmt.Sprintf("sig-%s-%d", author, ts)),
		Event: ir.SignedContent{
			Timestamp: ts,
			EventType: eventType,
			Content:   []byte(fmt.Sprintf("content-%d", ts)),
		},
	}
	return ir.MustHashEvent(e), e
}

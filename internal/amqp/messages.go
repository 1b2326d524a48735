package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// PatchOp is the kind of write a queued patch carries.
type PatchOp string

const (
	OpCreate PatchOp = "create"
	OpUpdate PatchOp = "update"
	OpDelete PatchOp = "delete"
)

// Valid reports whether op is a known operation.
func (op PatchOp) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// PatchMessage announces a pending entry patch stored in the local outbox.
// It carries only identifiers; the worker loads the body from the database.
type PatchMessage struct {
	PatchID   string    `json:"patch_id"`
	EntryID   int64     `json:"entry_id"`
	Op        PatchOp   `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPatchMessage creates a message stamped with the current time.
func NewPatchMessage(patchID string, entryID int64, op PatchOp) *PatchMessage {
	return &PatchMessage{
		PatchID:   patchID,
		EntryID:   entryID,
		Op:        op,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *PatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PatchMessageFromJSON parses and validates a message body.
func PatchMessageFromJSON(data []byte) (*PatchMessage, error) {
	var msg PatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.PatchID == "" {
		return nil, fmt.Errorf("patch message without patch_id")
	}
	if !msg.Op.Valid() {
		return nil, fmt.Errorf("patch message with unknown op %q", msg.Op)
	}
	return &msg, nil
}

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntryType names the kind of local mutation a queue entry records.
type EntryType string

const (
	EntryChatAdd             EntryType = "chat_add"
	EntryChatUpdate          EntryType = "chat_update"
	EntryChatDelete          EntryType = "chat_delete"
	EntryMessageAdd          EntryType = "message_add"
	EntryMessageStatusUpdate EntryType = "message_status_update"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryChatAdd, EntryChatUpdate, EntryChatDelete, EntryMessageAdd, EntryMessageStatusUpdate:
		return true
	}
	return false
}

// QueueEntry records one locally originated mutation. Payload is a JSON
// snapshot of the affected entity after the mutation (a Chat, a Message, or a
// ChatDeletePayload). Entries are never mutated once written.
type QueueEntry struct {
	Type      EntryType       `json:"type"`
	Payload   json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatDeletePayload is the payload of a chat_delete entry.
type ChatDeletePayload struct {
	ID string `json:"id"`
}

// DecodePayload unmarshals e's payload into v.
func (e QueueEntry) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

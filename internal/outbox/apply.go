package outbox

import (
	"fmt"

	"github.com/matheus3301/jot/internal/local"
	"github.com/matheus3301/jot/internal/model"
)

// Apply folds one entry into snap the same way the mutation was written
// through locally.
func Apply(snap *local.Snapshot, e Entry) error {
	if snap.Messages == nil {
		snap.Messages = make(map[string][]model.Message)
	}
	switch e.Type {
	case model.EntryChatAdd, model.EntryChatUpdate:
		var c model.Chat
		if err := e.DecodePayload(&c); err != nil {
			return err
		}
		upsertChat(snap, c, e.Type == model.EntryChatAdd)

	case model.EntryChatDelete:
		var p model.ChatDeletePayload
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if i := snap.ChatIndex(p.ID); i >= 0 {
			snap.Chats = append(snap.Chats[:i], snap.Chats[i+1:]...)
		}
		delete(snap.Messages, p.ID)

	case model.EntryMessageAdd:
		var m model.Message
		if err := e.DecodePayload(&m); err != nil {
			return err
		}
		upsertMessage(snap, m)
		if i := snap.ChatIndex(m.ChatID); i >= 0 {
			c := &snap.Chats[i]
			model.PreviewPatch(m.Text, m.Timestamp).Apply(c)
			if model.Newer(m.Timestamp, c.UpdatedAt) {
				c.UpdatedAt = m.Timestamp
			}
		}

	case model.EntryMessageStatusUpdate:
		var m model.Message
		if err := e.DecodePayload(&m); err != nil {
			return err
		}
		msgs := snap.Messages[m.ChatID]
		for i := range msgs {
			if msgs[i].ID == m.ID {
				msgs[i].Status = m.Status
				msgs[i].UpdatedAt = m.UpdatedAt
			}
		}

	default:
		return fmt.Errorf("apply: unknown entry type %q", e.Type)
	}
	return nil
}

// Replay applies entries to snap in order.
func Replay(snap *local.Snapshot, entries []Entry) error {
	for i, e := range entries {
		if err := Apply(snap, e); err != nil {
			return fmt.Errorf("replay entry %d: %w", i, err)
		}
	}
	return nil
}

// upsertChat replaces c in place, or inserts it: new chats go first, chats
// missing for an update go last.
func upsertChat(snap *local.Snapshot, c model.Chat, prepend bool) {
	if i := snap.ChatIndex(c.ID); i >= 0 {
		snap.Chats[i] = c
		return
	}
	if prepend {
		snap.Chats = append([]model.Chat{c}, snap.Chats...)
		return
	}
	snap.Chats = append(snap.Chats, c)
}

func upsertMessage(snap *local.Snapshot, m model.Message) {
	msgs := snap.Messages[m.ChatID]
	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = m
			return
		}
	}
	snap.Messages[m.ChatID] = append(msgs, m)
}

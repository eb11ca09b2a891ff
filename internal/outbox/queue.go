// Package outbox is the sync queue: an append-only persisted log of local
// mutations that have not yet been folded into a successful sync cycle.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/model"
	"go.uber.org/zap"
)

// Entry is one queued mutation.
type Entry = model.QueueEntry

// Storage persists the queue as a whole.
type Storage interface {
	Queue(ctx context.Context) ([]model.QueueEntry, error)
	SaveQueue(ctx context.Context, entries []model.QueueEntry) error
}

// Queue serializes read-modify-write access to the persisted queue.
type Queue struct {
	mu     sync.Mutex
	store  Storage
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Queue over store.
func New(store Storage, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: store, logger: logger, now: time.Now}
}

// NewEntry builds an entry of type t carrying payload, stamped at now.
func NewEntry(t model.EntryType, payload any, now time.Time) (Entry, error) {
	if !t.Valid() {
		return Entry{}, apperr.Invalid("enqueue", fmt.Sprintf("unknown entry type %q", t))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, apperr.Invalid("enqueue", "payload is not encodable: "+err.Error())
	}
	return Entry{Type: t, Payload: raw, Timestamp: now.UTC()}, nil
}

// Enqueue appends an entry of type t carrying payload. There is no
// deduplication: enqueuing the same mutation twice yields two entries.
func (q *Queue) Enqueue(ctx context.Context, t model.EntryType, payload any) (Entry, error) {
	e, err := NewEntry(t, payload, q.now())
	if err != nil {
		return Entry{}, err
	}
	if err := q.Append(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Append persists prebuilt entries in order with a single write.
func (q *Queue) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.Queue(ctx)
	if err != nil {
		return err
	}
	if err := q.store.SaveQueue(ctx, append(current, entries...)); err != nil {
		return err
	}
	for _, e := range entries {
		q.logger.Debug("queued mutation", zap.String("type", string(e.Type)))
	}
	q.logger.Debug("queue depth", zap.Int("depth", len(current)+len(entries)))
	return nil
}

// Now returns the queue's clock reading, used to stamp entries built ahead
// of Append.
func (q *Queue) Now() time.Time {
	return q.now()
}

// Pending returns every queued entry, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Queue(ctx)
}

// Len returns the queue depth.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Pending(ctx)
	return len(entries), err
}

// Drain returns every queued entry and clears the queue.
func (q *Queue) Drain(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.Queue(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := q.store.SaveQueue(ctx, nil); err != nil {
		return nil, err
	}
	return entries, nil
}

// Trim removes the first n entries, keeping anything appended after them.
func (q *Queue) Trim(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.Queue(ctx)
	if err != nil {
		return err
	}
	if n > len(entries) {
		n = len(entries)
	}
	return q.store.SaveQueue(ctx, entries[n:])
}

// DeletedChats returns the ids named by chat_delete entries, in queue order
// and without duplicates.
func DeletedChats(entries []Entry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.Type != model.EntryChatDelete {
			continue
		}
		var p model.ChatDeletePayload
		if err := e.DecodePayload(&p); err != nil || p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		ids = append(ids, p.ID)
	}
	return ids
}

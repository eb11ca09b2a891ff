// Package local is the typed on-device replica: the signed-in user, the chat
// list, per-chat message lists, the sync queue and the last-sync time, all
// kept as JSON values in a string-keyed store.
package local

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/model"
)

// Storage keys.
const (
	KeyUser        = "user"
	KeyChats       = "chats"
	KeyLastSync    = "last_sync"
	KeyQueue       = "sync_queue"
	MessagesPrefix = "messages_"
)

// MessagesKey returns the key holding chatID's message list.
func MessagesKey(chatID string) string {
	return MessagesPrefix + chatID
}

// KV is the string-keyed persistence the store is built on.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	SetMany(ctx context.Context, sets map[string]string, removals []string) error
}

// Store is the typed local store. Every failure is an apperr STORAGE error.
type Store struct {
	kv KV
}

// New creates a Store over kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Snapshot is the full local replica state.
type Snapshot struct {
	User     *model.User
	Chats    []model.Chat
	Messages map[string][]model.Message
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Chats:    append([]model.Chat(nil), s.Chats...),
		Messages: make(map[string][]model.Message, len(s.Messages)),
	}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	for id, msgs := range s.Messages {
		out.Messages[id] = append([]model.Message(nil), msgs...)
	}
	return out
}

// ChatIndex returns the position of chatID in s.Chats, or -1.
func (s *Snapshot) ChatIndex(chatID string) int {
	for i := range s.Chats {
		if s.Chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

// User returns the signed-in user, or nil when there is none.
func (s *Store) User(ctx context.Context) (*model.User, error) {
	var u model.User
	ok, err := s.read(ctx, KeyUser, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// SaveUser persists u as the signed-in user.
func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	return s.write(ctx, KeyUser, u)
}

// RemoveUser forgets the signed-in user.
func (s *Store) RemoveUser(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeyUser); err != nil {
		return apperr.Storage("remove user", err)
	}
	return nil
}

// Chats returns the chat list. A missing list is empty.
func (s *Store) Chats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if _, err := s.read(ctx, KeyChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// SaveChats replaces the chat list.
func (s *Store) SaveChats(ctx context.Context, chats []model.Chat) error {
	return s.write(ctx, KeyChats, nonNil(chats))
}

// Messages returns chatID's message list. A missing list is empty.
func (s *Store) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	if _, err := s.read(ctx, MessagesKey(chatID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveMessages replaces chatID's message list.
func (s *Store) SaveMessages(ctx context.Context, chatID string, msgs []model.Message) error {
	return s.write(ctx, MessagesKey(chatID), nonNil(msgs))
}

// RemoveMessages drops chatID's message list.
func (s *Store) RemoveMessages(ctx context.Context, chatID string) error {
	if err := s.kv.Remove(ctx, MessagesKey(chatID)); err != nil {
		return apperr.Storage("remove messages", err)
	}
	return nil
}

// AllMessages returns every stored message list keyed by chat id.
func (s *Store) AllMessages(ctx context.Context) (map[string][]model.Message, error) {
	keys, err := s.kv.ListKeys(ctx, MessagesPrefix)
	if err != nil {
		return nil, apperr.Storage("list message keys", err)
	}
	out := make(map[string][]model.Message, len(keys))
	for _, k := range keys {
		var msgs []model.Message
		if _, err := s.read(ctx, k, &msgs); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, MessagesPrefix)] = msgs
	}
	return out, nil
}

// LastSync returns the completion time of the last successful cycle. The
// bool is false when no cycle has completed.
func (s *Store) LastSync(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	ok, err := s.read(ctx, KeyLastSync, &t)
	return t, ok, err
}

// SaveLastSync records t as the last successful cycle.
func (s *Store) SaveLastSync(ctx context.Context, t time.Time) error {
	return s.write(ctx, KeyLastSync, t)
}

// ClearLastSync forgets the last-sync time.
func (s *Store) ClearLastSync(ctx context.Context) error {
	if err := s.kv.Remove(ctx, KeyLastSync); err != nil {
		return apperr.Storage("clear last sync", err)
	}
	return nil
}

// Queue returns the persisted sync queue, oldest first.
func (s *Store) Queue(ctx context.Context) ([]model.QueueEntry, error) {
	var entries []model.QueueEntry
	if _, err := s.read(ctx, KeyQueue, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveQueue replaces the persisted sync queue.
func (s *Store) SaveQueue(ctx context.Context, entries []model.QueueEntry) error {
	return s.write(ctx, KeyQueue, nonNil(entries))
}

// Load reads the user, the chat list and every message list.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	user, err := s.User(ctx)
	if err != nil {
		return nil, err
	}
	chats, err := s.Chats(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.AllMessages(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{User: user, Chats: chats, Messages: msgs}, nil
}

// CommitSnapshot writes snap's chat list and the message list of every chat
// in it as one transaction. Message lists of chats not in snap are left
// untouched.
func (s *Store) CommitSnapshot(ctx context.Context, snap *Snapshot) error {
	sets := make(map[string]string, len(snap.Chats)+1)
	b, err := json.Marshal(nonNil(snap.Chats))
	if err != nil {
		return apperr.Storage("encode chats", err)
	}
	sets[KeyChats] = string(b)
	for _, c := range snap.Chats {
		b, err := json.Marshal(nonNil(snap.Messages[c.ID]))
		if err != nil {
			return apperr.Storage("encode messages", err)
		}
		sets[MessagesKey(c.ID)] = string(b)
	}
	if err := s.kv.SetMany(ctx, sets, nil); err != nil {
		return apperr.Storage("commit snapshot", err)
	}
	return nil
}

// Change is a set of key updates written together.
type Change struct {
	// SetChats replaces the chat list with Chats, even when Chats is empty.
	SetChats bool
	Chats    []model.Chat
	// Messages replaces the message list of each listed chat.
	Messages map[string][]model.Message
	// RemoveMessages drops the message lists of the listed chats.
	RemoveMessages []string
}

// Write applies c in one transaction.
func (s *Store) Write(ctx context.Context, c Change) error {
	sets := make(map[string]string, len(c.Messages)+1)
	if c.SetChats {
		b, err := json.Marshal(nonNil(c.Chats))
		if err != nil {
			return apperr.Storage("encode chats", err)
		}
		sets[KeyChats] = string(b)
	}
	for id, msgs := range c.Messages {
		b, err := json.Marshal(nonNil(msgs))
		if err != nil {
			return apperr.Storage("encode messages", err)
		}
		sets[MessagesKey(id)] = string(b)
	}
	removals := make([]string, 0, len(c.RemoveMessages))
	for _, id := range c.RemoveMessages {
		removals = append(removals, MessagesKey(id))
	}
	if err := s.kv.SetMany(ctx, sets, removals); err != nil {
		return apperr.Storage("write change", err)
	}
	return nil
}

// Wipe drops the chat list, every message list, the queue and the last-sync
// time in one transaction. The user record is left alone.
func (s *Store) Wipe(ctx context.Context) error {
	keys, err := s.kv.ListKeys(ctx, MessagesPrefix)
	if err != nil {
		return apperr.Storage("list message keys", err)
	}
	keys = append(keys, KeyChats, KeyQueue, KeyLastSync)
	if err := s.kv.SetMany(ctx, nil, keys); err != nil {
		return apperr.Storage("wipe replica", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, apperr.Storage("read "+key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, apperr.Storage("decode "+key, err)
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return apperr.Storage("encode "+key, err)
	}
	if err := s.kv.Set(ctx, key, string(b)); err != nil {
		return apperr.Storage("write "+key, err)
	}
	return nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

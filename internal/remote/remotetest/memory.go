// Package remotetest provides an in-memory remote.Backend with fault
// injection for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
)

// Backend operation names passed to Fail hooks and counted by Calls.
const (
	OpPutUser          = "PutUser"
	OpGetUser          = "GetUser"
	OpPutChat          = "PutChat"
	OpPatchChat        = "PatchChat"
	OpDeleteChat       = "DeleteChat"
	OpChatsByUser      = "ChatsByUser"
	OpPutMessage       = "PutMessage"
	OpMessagesByChat   = "MessagesByChat"
	OpSetMessageStatus = "SetMessageStatus"
)

// Memory is a remote.Backend kept in maps.
type Memory struct {
	mu       sync.Mutex
	users    map[string]model.User
	chats    map[string]model.Chat
	messages map[string]model.Message
	calls    map[string]int

	// Fail, when set, is consulted before every operation with the operation
	// name and the record id (or owner/chat id for listings). A non-nil
	// return fails the call without touching state.
	Fail func(op, id string) error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]model.User),
		chats:    make(map[string]model.Chat),
		messages: make(map[string]model.Message),
		calls:    make(map[string]int),
	}
}

var _ remote.Backend = (*Memory)(nil)

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ResetCalls zeroes every call counter.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// Chat returns the stored chat with id.
func (m *Memory) Chat(id string) (model.Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	return c, ok
}

// Message returns the stored message with id.
func (m *Memory) Message(id string) (model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}

// SeedChat stores c as-is.
func (m *Memory) SeedChat(c model.Chat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c
}

// SeedMessage stores msg as-is.
func (m *Memory) SeedMessage(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
}

func (m *Memory) enter(ctx context.Context, op, id string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Fail != nil {
		return m.Fail(op, id)
	}
	return nil
}

func (m *Memory) PutUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPutUser, u.ID); err != nil {
		return err
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpGetUser, id); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, remote.ErrNotFound)
	}
	return &u, nil
}

func (m *Memory) PutChat(ctx context.Context, c model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPutChat, c.ID); err != nil {
		return err
	}
	m.chats[c.ID] = c
	return nil
}

func (m *Memory) PatchChat(ctx context.Context, id string, p model.ChatPatch, now time.Time) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPatchChat, id); err != nil {
		return nil, err
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, remote.ErrNotFound)
	}
	p.Apply(&c)
	c.UpdatedAt = now
	m.chats[id] = c
	return &c, nil
}

func (m *Memory) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpDeleteChat, id); err != nil {
		return err
	}
	if _, ok := m.chats[id]; !ok {
		return fmt.Errorf("chat %s: %w", id, remote.ErrNotFound)
	}
	delete(m.chats, id)
	return nil
}

func (m *Memory) ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpChatsByUser, userID); err != nil {
		return nil, err
	}
	var out []model.Chat
	for _, c := range m.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutMessage(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPutMessage, msg.ID); err != nil {
		return err
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *Memory) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpMessagesByChat, chatID); err != nil {
		return nil, err
	}
	var out []model.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetMessageStatus(ctx context.Context, id string, status model.Status, now time.Time) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpSetMessageStatus, id); err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, remote.ErrNotFound)
	}
	msg.Status = status
	msg.UpdatedAt = now
	m.messages[id] = msg
	return &msg, nil
}

// Package remote is the adapter over the durable remote record store.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/jot/internal/model"
)

var (
	// ErrNotFound is wrapped by backends when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalid is wrapped by backends when the request is malformed.
	ErrInvalid = errors.New("invalid argument")
)

// Backend is a keyed record store with secondary lookups of chats by owner
// and messages by chat. Puts are upserts.
type Backend interface {
	PutUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)

	PutChat(ctx context.Context, c model.Chat) error
	// PatchChat applies p to the stored chat, stamps UpdatedAt with now and
	// returns the post-update record.
	PatchChat(ctx context.Context, id string, p model.ChatPatch, now time.Time) (*model.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error)

	PutMessage(ctx context.Context, m model.Message) error
	// MessagesByChat returns the chat's messages ordered by timestamp.
	MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error)
	SetMessageStatus(ctx context.Context, id string, status model.Status, now time.Time) (*model.Message, error)
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) || errors.Is(err, context.Canceled)
}

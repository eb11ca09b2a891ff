package remote

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/model"
	"go.uber.org/zap"
)

// Options bounds how hard the adapter tries before reporting a failure.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the first backoff interval.
	RetryDelay time.Duration
	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// Adapter exposes the remote store operations used by sync. Every failure is
// an apperr REMOTE error that still wraps ErrNotFound or ErrInvalid when the
// backend reported one.
type Adapter struct {
	backend Backend
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewAdapter creates an Adapter over backend.
func NewAdapter(backend Backend, opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxDelay < opts.RetryDelay {
		opts.MaxDelay = opts.RetryDelay
	}
	return &Adapter{backend: backend, opts: opts, logger: logger, now: model.Now}
}

// SaveUser upserts u, stamping CreatedAt when absent and UpdatedAt always.
func (a *Adapter) SaveUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		return model.User{}, apperr.Invalid("save user", "user id is required")
	}
	now := a.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	err := a.call(ctx, "save user", func(ctx context.Context) error {
		return a.backend.PutUser(ctx, u)
	})
	return u, err
}

// GetUser fetches a user profile.
func (a *Adapter) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u *model.User
	err := a.call(ctx, "get user", func(ctx context.Context) (err error) {
		u, err = a.backend.GetUser(ctx, id)
		return err
	})
	return u, err
}

// CreateChat stores c, assigning an id when it has none and stamping
// CreatedAt and UpdatedAt when absent. It returns the stored chat.
func (a *Adapter) CreateChat(ctx context.Context, c model.Chat) (model.Chat, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := a.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	err := a.call(ctx, "create chat", func(ctx context.Context) error {
		return a.backend.PutChat(ctx, c)
	})
	return c, err
}

// UpdateChat applies the supplied fields of p and stamps UpdatedAt with the
// call time. It returns the post-update chat.
func (a *Adapter) UpdateChat(ctx context.Context, id string, p model.ChatPatch) (model.Chat, error) {
	now := a.now().UTC()
	var c *model.Chat
	err := a.call(ctx, "update chat", func(ctx context.Context) (err error) {
		c, err = a.backend.PatchChat(ctx, id, p, now)
		return err
	})
	if err != nil {
		return model.Chat{}, err
	}
	return *c, nil
}

// DeleteChat removes a chat record.
func (a *Adapter) DeleteChat(ctx context.Context, id string) error {
	return a.call(ctx, "delete chat", func(ctx context.Context) error {
		return a.backend.DeleteChat(ctx, id)
	})
}

// GetUserChats lists every chat owned by userID.
func (a *Adapter) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	var chats []model.Chat
	err := a.call(ctx, "get user chats", func(ctx context.Context) (err error) {
		chats, err = a.backend.ChatsByUser(ctx, userID)
		return err
	})
	return chats, err
}

// CreateMessage stores m and then moves the owning chat's preview to m. It
// returns the stored message and the post-update chat. The chat is nil when
// the preview update failed; the message is created regardless.
func (a *Adapter) CreateMessage(ctx context.Context, m model.Message) (model.Message, *model.Chat, error) {
	if m.ChatID == "" {
		return model.Message{}, nil, apperr.Invalid("create message", "chat id is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := a.now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.Time == "" {
		m.Time = model.TimeLabel(m.Timestamp)
	}
	if m.Status == "" {
		m.Status = model.StatusSent
	}
	if !m.Status.Valid() {
		return model.Message{}, nil, apperr.Invalid("create message", "unknown status "+string(m.Status))
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	err := a.call(ctx, "create message", func(ctx context.Context) error {
		return a.backend.PutMessage(ctx, m)
	})
	if err != nil {
		return model.Message{}, nil, err
	}

	chat, err := a.UpdateChat(ctx, m.ChatID, model.PreviewPatch(m.Text, m.Timestamp))
	if err != nil {
		a.logger.Warn("chat preview not updated",
			zap.String("chat_id", m.ChatID),
			zap.String("message_id", m.ID),
			zap.Error(err))
		return m, nil, nil
	}
	return m, &chat, nil
}

// GetChatMessages lists a chat's messages, oldest first.
func (a *Adapter) GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := a.call(ctx, "get chat messages", func(ctx context.Context) (err error) {
		msgs, err = a.backend.MessagesByChat(ctx, chatID)
		return err
	})
	return msgs, err
}

// UpdateMessageStatus sets a message's status and returns the post-update
// message.
func (a *Adapter) UpdateMessageStatus(ctx context.Context, id string, status model.Status) (model.Message, error) {
	if !status.Valid() {
		return model.Message{}, apperr.Invalid("update message status", "unknown status "+string(status))
	}
	now := a.now().UTC()
	var m *model.Message
	err := a.call(ctx, "update message status", func(ctx context.Context) (err error) {
		m, err = a.backend.SetMessageStatus(ctx, id, status, now)
		return err
	})
	if err != nil {
		return model.Message{}, err
	}
	return *m, nil
}

// Package fsbackend stores remote records in Cloud Firestore: one collection
// per record kind, chats looked up by owner and messages by chat.
package fsbackend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collections names the three record collections.
type Collections struct {
	Users    string
	Chats    string
	Messages string
}

// DefaultCollections returns the standard collection names.
func DefaultCollections() Collections {
	return Collections{Users: "JotUsers", Chats: "JotChats", Messages: "JotMessages"}
}

// Backend implements remote.Backend over a Firestore client.
type Backend struct {
	client *firestore.Client
	cols   Collections
}

var _ remote.Backend = (*Backend)(nil)

// New wraps an existing client.
func New(client *firestore.Client, cols Collections) *Backend {
	return &Backend{client: client, cols: cols}
}

// Dial connects to projectID. A credentials file is optional; the emulator
// is used when FIRESTORE_EMULATOR_HOST is set.
func Dial(ctx context.Context, projectID, credentialsFile string, cols Collections) (*Backend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return New(client, cols), nil
}

// Close releases the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// PutUser upserts u.
func (b *Backend) PutUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return fmt.Errorf("put user: empty id: %w", remote.ErrInvalid)
	}
	if _, err := b.client.Collection(b.cols.Users).Doc(u.ID).Set(ctx, u); err != nil {
		return mapErr("put user", err)
	}
	return nil
}

// GetUser returns the user with id or remote.ErrNotFound.
func (b *Backend) GetUser(ctx context.Context, id string) (*model.User, error) {
	doc, err := b.client.Collection(b.cols.Users).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("user "+id, err)
	}
	var u model.User
	if err := doc.DataTo(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// PutChat upserts c.
func (b *Backend) PutChat(ctx context.Context, c model.Chat) error {
	if c.ID == "" || c.UserID == "" {
		return fmt.Errorf("put chat: id and owner are required: %w", remote.ErrInvalid)
	}
	if _, err := b.client.Collection(b.cols.Chats).Doc(c.ID).Set(ctx, c); err != nil {
		return mapErr("put chat", err)
	}
	return nil
}

// PatchChat applies p to an existing chat and stamps it with now. The read
// and write run in one transaction.
func (b *Backend) PatchChat(ctx context.Context, id string, p model.ChatPatch, now time.Time) (*model.Chat, error) {
	ref := b.client.Collection(b.cols.Chats).Doc(id)
	var out model.Chat
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var c model.Chat
		if err := doc.DataTo(&c); err != nil {
			return err
		}
		p.Apply(&c)
		c.UpdatedAt = now
		out = c
		return tx.Set(ref, c)
	})
	if err != nil {
		return nil, mapErr("chat "+id, err)
	}
	return &out, nil
}

// DeleteChat removes the chat, then its messages.
func (b *Backend) DeleteChat(ctx context.Context, id string) error {
	if _, err := b.client.Collection(b.cols.Chats).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return mapErr("chat "+id, err)
	}

	docs, err := b.client.Collection(b.cols.Messages).Where("chatId", "==", id).Documents(ctx).GetAll()
	if err != nil {
		return mapErr("list messages of "+id, err)
	}
	if len(docs) == 0 {
		return nil
	}
	bw := b.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := bw.Delete(d.Ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("delete messages of %s: %w", id, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return mapErr("delete messages of "+id, err)
		}
	}
	return nil
}

// ChatsByUser lists the chats owned by userID.
func (b *Backend) ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	iter := b.client.Collection(b.cols.Chats).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var chats []model.Chat
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr("list chats", err)
		}
		var c model.Chat
		if err := doc.DataTo(&c); err != nil {
			return nil, fmt.Errorf("decode chat %s: %w", doc.Ref.ID, err)
		}
		chats = append(chats, c)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return chats, nil
}

// PutMessage upserts m.
func (b *Backend) PutMessage(ctx context.Context, m model.Message) error {
	if m.ID == "" || m.ChatID == "" {
		return fmt.Errorf("put message: id and chat are required: %w", remote.ErrInvalid)
	}
	if _, err := b.client.Collection(b.cols.Messages).Doc(m.ID).Set(ctx, m); err != nil {
		return mapErr("put message", err)
	}
	return nil
}

// MessagesByChat lists a chat's messages, oldest first. Sorting happens
// client side so the lookup needs only the single-field index on chatId.
func (b *Backend) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	iter := b.client.Collection(b.cols.Messages).Where("chatId", "==", chatID).Documents(ctx)
	defer iter.Stop()

	var msgs []model.Message
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, mapErr("list messages", err)
		}
		var m model.Message
		if err := doc.DataTo(&m); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", doc.Ref.ID, err)
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		ti, tj := model.Effective(msgs[i].Timestamp), model.Effective(msgs[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

// SetMessageStatus changes only the status and update time of a message.
func (b *Backend) SetMessageStatus(ctx context.Context, id string, st model.Status, now time.Time) (*model.Message, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("status %q: %w", st, remote.ErrInvalid)
	}
	ref := b.client.Collection(b.cols.Messages).Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(st)},
		{Path: "updatedAt", Value: now},
	})
	if err != nil {
		return nil, mapErr("message "+id, err)
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		return nil, mapErr("message "+id, err)
	}
	var m model.Message
	if err := doc.DataTo(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func mapErr(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, remote.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %v: %w", op, err, remote.ErrInvalid)
	}
	return fmt.Errorf("%s: %w", op, err)
}

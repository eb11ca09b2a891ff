// Package reconcile merges the local replica with the remote store using
// last-writer-wins per chat and per-message status pushes.
package reconcile

import (
	"context"
	"errors"
	"sort"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
	"go.uber.org/zap"
)

// Remote is the subset of the remote adapter the engine drives.
type Remote interface {
	GetUserChats(ctx context.Context, userID string) ([]model.Chat, error)
	CreateChat(ctx context.Context, c model.Chat) (model.Chat, error)
	UpdateChat(ctx context.Context, id string, p model.ChatPatch) (model.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	GetChatMessages(ctx context.Context, chatID string) ([]model.Message, error)
	CreateMessage(ctx context.Context, m model.Message) (model.Message, *model.Chat, error)
	UpdateMessageStatus(ctx context.Context, id string, status model.Status) (model.Message, error)
}

// Input is the local side of a merge.
type Input struct {
	UserID   string
	Chats    []model.Chat
	Messages map[string][]model.Message
	// Deleted lists chats removed locally since the last successful cycle.
	Deleted []string
}

// Stats counts what a merge did.
type Stats struct {
	ChatsCreated    int `json:"chatsCreated"`
	ChatsUpdated    int `json:"chatsUpdated"`
	ChatsAdopted    int `json:"chatsAdopted"`
	ChatsDeleted    int `json:"chatsDeleted"`
	MessagesCreated int `json:"messagesCreated"`
	StatusesPushed  int `json:"statusesPushed"`
	MessagesAdopted int `json:"messagesAdopted"`

	// PreviewsRefreshed counts chats whose preview was moved to a newer
	// message after the merge.
	PreviewsRefreshed int `json:"previewsRefreshed"`
}

// Result is the merged snapshot plus everything that did not go through.
type Result struct {
	Chats    []model.Chat
	Messages map[string][]model.Message
	Stats    Stats
	// Skipped holds one CONFLICT_SKIPPED error per item left in its local
	// form.
	Skipped []*apperr.Error
	// PendingDeletes are chats deleted locally whose remote delete failed.
	PendingDeletes []string
}

// Engine computes merges. It holds no state between runs.
type Engine struct {
	remote Remote
	logger *zap.Logger
}

// New creates an Engine driving r.
func New(r Remote, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{remote: r, logger: logger}
}

// Run merges in with the remote store. It fails only when the remote chat
// list cannot be read or ctx ends; individual item failures are recorded in
// the result and leave the item as it was locally.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	remoteChats, err := e.remote.GetUserChats(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	res := &Result{Messages: make(map[string][]model.Message)}
	createFailed := e.mergeChats(ctx, in, remoteChats, res)
	e.mergeMessageLists(ctx, in, res, createFailed)

	if err := ctx.Err(); err != nil {
		return nil, apperr.Remote("reconcile", err)
	}
	return res, nil
}

// mergeChats pushes or resolves every local chat, adopts or deletes
// remote-only chats, and returns the ids whose creation failed.
func (e *Engine) mergeChats(ctx context.Context, in Input, remoteChats []model.Chat, res *Result) map[string]bool {
	remoteByID := make(map[string]model.Chat, len(remoteChats))
	for _, rc := range remoteChats {
		remoteByID[rc.ID] = rc
	}
	createFailed := make(map[string]bool)

	for _, lc := range in.Chats {
		rc, ok := remoteByID[lc.ID]
		switch {
		case !ok:
			lc.UserID = in.UserID
			stored, err := e.remote.CreateChat(ctx, lc)
			if err != nil {
				e.skip(res, "create chat "+lc.ID, err)
				createFailed[lc.ID] = true
				res.Chats = append(res.Chats, lc)
				continue
			}
			res.Stats.ChatsCreated++
			res.Chats = append(res.Chats, stored)

		case model.Newer(lc.UpdatedAt, rc.UpdatedAt):
			updated, err := e.remote.UpdateChat(ctx, lc.ID, model.ChatPatchFrom(lc))
			if err != nil {
				e.skip(res, "update chat "+lc.ID, err)
				res.Chats = append(res.Chats, lc)
				continue
			}
			res.Stats.ChatsUpdated++
			res.Chats = append(res.Chats, updated)

		default:
			res.Chats = append(res.Chats, rc)
		}
	}

	local := make(map[string]bool, len(in.Chats))
	for _, lc := range in.Chats {
		local[lc.ID] = true
	}
	deleted := make(map[string]bool, len(in.Deleted))
	for _, id := range in.Deleted {
		deleted[id] = true
	}

	for _, rc := range remoteChats {
		if local[rc.ID] {
			continue
		}
		if deleted[rc.ID] {
			err := e.remote.DeleteChat(ctx, rc.ID)
			if err != nil && !errors.Is(err, remote.ErrNotFound) {
				e.skip(res, "delete chat "+rc.ID, err)
				res.PendingDeletes = append(res.PendingDeletes, rc.ID)
				continue
			}
			res.Stats.ChatsDeleted++
			continue
		}
		res.Stats.ChatsAdopted++
		res.Chats = append(res.Chats, rc)
	}
	return createFailed
}

// mergeMessageLists reconciles the message list of every merged chat.
func (e *Engine) mergeMessageLists(ctx context.Context, in Input, res *Result, createFailed map[string]bool) {
	for i := range res.Chats {
		chatID := res.Chats[i].ID
		local := sortedCopy(in.Messages[chatID])
		if createFailed[chatID] {
			res.Messages[chatID] = local
			continue
		}

		remoteMsgs, err := e.remote.GetChatMessages(ctx, chatID)
		if err != nil {
			e.skip(res, "list messages of "+chatID, err)
			res.Messages[chatID] = local
			continue
		}
		merged, unsent := e.mergeMessages(ctx, in.UserID, &res.Chats[i], local, remoteMsgs, res)
		res.Messages[chatID] = merged
		e.refreshPreview(ctx, &res.Chats[i], merged, unsent, res)
	}
}

// refreshPreview points the chat's preview at its newest message the remote
// store holds. A winning local chat patch may carry an older preview than the
// remote had.
func (e *Engine) refreshPreview(ctx context.Context, chat *model.Chat, msgs []model.Message, unsent map[string]bool, res *Result) {
	for i := len(msgs) - 1; i >= 0; i-- {
		newest := msgs[i]
		if unsent[newest.ID] {
			continue
		}
		if !model.Newer(newest.Timestamp, chat.LastMessageTime) {
			return
		}
		updated, err := e.remote.UpdateChat(ctx, chat.ID, model.PreviewPatch(newest.Text, newest.Timestamp))
		if err != nil {
			e.skip(res, "refresh preview of "+chat.ID, err)
			return
		}
		res.Stats.PreviewsRefreshed++
		*chat = updated
		return
	}
}

// mergeMessages returns the merged list and the ids of local messages whose
// creation failed.
func (e *Engine) mergeMessages(ctx context.Context, userID string, chat *model.Chat, local, remoteMsgs []model.Message, res *Result) ([]model.Message, map[string]bool) {
	remoteByID := make(map[string]model.Message, len(remoteMsgs))
	for _, rm := range remoteMsgs {
		remoteByID[rm.ID] = rm
	}

	merged := make([]model.Message, 0, len(local)+len(remoteMsgs))
	seen := make(map[string]bool, len(local))
	unsent := make(map[string]bool)
	for _, lm := range local {
		seen[lm.ID] = true
		rm, ok := remoteByID[lm.ID]
		switch {
		case !ok:
			lm.ChatID = chat.ID
			if lm.UserID == "" {
				lm.UserID = userID
			}
			stored, post, err := e.remote.CreateMessage(ctx, lm)
			if err != nil {
				e.skip(res, "create message "+lm.ID, err)
				unsent[lm.ID] = true
				merged = append(merged, lm)
				continue
			}
			res.Stats.MessagesCreated++
			merged = append(merged, stored)
			if post != nil {
				*chat = *post
			}

		case rm.Status != lm.Status:
			updated, err := e.remote.UpdateMessageStatus(ctx, lm.ID, lm.Status)
			if err != nil {
				e.skip(res, "push status of "+lm.ID, err)
				merged = append(merged, lm)
				continue
			}
			res.Stats.StatusesPushed++
			merged = append(merged, updated)

		default:
			merged = append(merged, rm)
		}
	}

	for _, rm := range remoteMsgs {
		if seen[rm.ID] {
			continue
		}
		res.Stats.MessagesAdopted++
		merged = append(merged, rm)
	}
	SortMessages(merged)
	return merged, unsent
}

func (e *Engine) skip(res *Result, op string, err error) {
	e.logger.Warn("sync item skipped", zap.String("op", op), zap.Error(err))
	res.Skipped = append(res.Skipped, apperr.Skipped(op, err))
}

// SortMessages orders msgs by timestamp, breaking ties by id.
func SortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		ti, tj := model.Effective(msgs[i].Timestamp), model.Effective(msgs[j].Timestamp)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func sortedCopy(msgs []model.Message) []model.Message {
	out := append(make([]model.Message, 0, len(msgs)), msgs...)
	SortMessages(out)
	return out
}

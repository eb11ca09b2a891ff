// Package replica is the presentation-facing facade over the local replica:
// session management, write-through mutations and on-demand sync.
package replica

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/local"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/outbox"
	"github.com/matheus3301/jot/internal/reconcile"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/status"
	intsync "github.com/matheus3301/jot/internal/sync"
	"go.uber.org/zap"
)

// Remote is everything the replica needs from the remote store.
type Remote interface {
	reconcile.Remote
	intsync.Profiles
}

// Options configures a Replica.
type Options struct {
	Local    *local.Store
	Queue    *outbox.Queue
	Remote   Remote
	Bus      *bus.Bus
	Logger   *zap.Logger
	Interval time.Duration
	// AutoSync starts periodic cycles whenever a user is signed in.
	AutoSync bool
}

// Replica serializes local mutations with the orchestrator's read and commit
// phases. Remote calls never run under its lock.
type Replica struct {
	local    *local.Store
	queue    *outbox.Queue
	remote   Remote
	bus      *bus.Bus
	logger   *zap.Logger
	machine  *status.Machine
	orch     *intsync.Orchestrator
	autoSync bool
	now      func() time.Time

	mu   sync.Mutex
	view *local.Snapshot

	// bg scopes the periodic cycles; it outlives the call that started them.
	bg context.Context
}

// New builds a Replica and its orchestrator. Call Open to restore a session.
func New(opts Options) *Replica {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Replica{
		local:    opts.Local,
		queue:    opts.Queue,
		remote:   opts.Remote,
		bus:      opts.Bus,
		logger:   opts.Logger,
		machine:  status.NewMachine(opts.Bus),
		autoSync: opts.AutoSync,
		now:      model.Now,
		view:     emptyView(),
		bg:       context.Background(),
	}
	r.orch = intsync.New(intsync.Deps{
		Machine:  r.machine,
		Local:    opts.Local,
		Queue:    opts.Queue,
		Merger:   reconcile.New(opts.Remote, opts.Logger.Named("reconcile")),
		Profiles: opts.Remote,
		Bus:      opts.Bus,
		Logger:   opts.Logger.Named("sync"),
		Lock:     &r.mu,
	})
	if opts.Interval > 0 {
		r.orch.SetInterval(opts.Interval)
	}
	// Runs with r.mu held by the orchestrator.
	r.orch.OnCommit(func(snap *local.Snapshot) {
		r.view = snap
	})
	return r
}

// Orchestrator exposes the sync orchestrator, for interval changes and
// background control.
func (r *Replica) Orchestrator() *intsync.Orchestrator {
	return r.orch
}

// Machine exposes the session state machine.
func (r *Replica) Machine() *status.Machine {
	return r.machine
}

// Open resumes the stored session, if any. It returns the signed-in user or
// nil.
func (r *Replica) Open(ctx context.Context) (*model.User, error) {
	u, err := r.local.User(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		r.logger.Info("no stored session")
		return nil, nil
	}
	if err := r.resume(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// Close stops periodic cycles.
func (r *Replica) Close() {
	r.orch.Stop()
}

// Register creates a new user, stores it locally and tries to push it to the
// remote store. A remote failure does not fail registration; the next cycle
// pushes the profile.
func (r *Replica) Register(ctx context.Context, name, email string) (model.User, error) {
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" {
		return model.User{}, apperr.Invalid("register", "name is required")
	}
	if email == "" {
		return model.User{}, apperr.Invalid("register", "email is required")
	}
	if err := r.requireSignedOut("register"); err != nil {
		return model.User{}, err
	}

	now := r.now().UTC()
	u := model.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.signIn(ctx, u); err != nil {
		return model.User{}, err
	}
	if _, err := r.remote.SaveUser(ctx, u); err != nil {
		r.logger.Warn("profile not pushed, will retry on next sync", zap.String("user_id", u.ID), zap.Error(err))
	}
	return u, nil
}

// Login signs in as an existing user. The stored profile is reused when it
// matches; otherwise the profile is fetched from the remote store.
func (r *Replica) Login(ctx context.Context, userID string) (model.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.User{}, apperr.Invalid("login", "user id is required")
	}
	if err := r.requireSignedOut("login"); err != nil {
		return model.User{}, err
	}

	stored, err := r.local.User(ctx)
	if err != nil {
		return model.User{}, err
	}
	if stored != nil && stored.ID == userID {
		return *stored, r.resume(ctx, *stored)
	}

	u, err := r.remote.GetUser(ctx, userID)
	if errors.Is(err, remote.ErrNotFound) {
		return model.User{}, apperr.NotFound("login", "user "+userID)
	}
	if err != nil {
		return model.User{}, err
	}
	if err := r.signIn(ctx, *u); err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// Logout stops periodic cycles and forgets the user and the last-sync time.
// Chats, messages and queued mutations stay on the device until a different
// user signs in. It fails with BUSY while a cycle is running.
func (r *Replica) Logout(ctx context.Context) error {
	if err := r.machine.SignOut(); err != nil {
		return err
	}
	r.orch.Stop()

	r.mu.Lock()
	err := r.local.RemoveUser(ctx)
	if err == nil {
		err = r.local.ClearLastSync(ctx)
	}
	r.view.User = nil
	r.mu.Unlock()
	r.orch.Reset()
	if err != nil {
		return err
	}

	r.logger.Info("signed out")
	r.bus.Emit(bus.SessionSignedOut, nil)
	return nil
}

// User returns the signed-in user, or nil.
func (r *Replica) User() *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.User == nil {
		return nil
	}
	u := *r.view.User
	return &u
}

// AddChat creates a chat locally and queues it for the remote store.
func (r *Replica) AddChat(ctx context.Context, name, profilePic string) (model.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Chat{}, apperr.Invalid("add chat", "name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.userLocked("add chat")
	if err != nil {
		return model.Chat{}, err
	}

	now := r.now().UTC()
	c := model.Chat{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		Name:       name,
		ProfilePic: profilePic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.commitLocked(ctx, write{}, entry(model.EntryChatAdd, c)); err != nil {
		return model.Chat{}, err
	}
	r.bus.Emit(bus.ChatAdded, c)
	return c, nil
}

// UpdateChat applies p to a chat and stamps it as changed now.
func (r *Replica) UpdateChat(ctx context.Context, id string, p model.ChatPatch) (model.Chat, error) {
	if p.IsEmpty() {
		return model.Chat{}, apperr.Invalid("update chat", "nothing to update")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return model.Chat{}, apperr.Invalid("update chat", "name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.chatLocked("update chat", id)
	if err != nil {
		return model.Chat{}, err
	}
	p.Apply(&c)
	c.UpdatedAt = r.now().UTC()
	if err := r.commitLocked(ctx, write{}, entry(model.EntryChatUpdate, c)); err != nil {
		return model.Chat{}, err
	}
	r.bus.Emit(bus.ChatUpdated, c)
	return c, nil
}

// DeleteChat removes a chat and its messages locally and queues the remote
// delete.
func (r *Replica) DeleteChat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.chatLocked("delete chat", id); err != nil {
		return err
	}
	e := entry(model.EntryChatDelete, model.ChatDeletePayload{ID: id})
	if err := r.commitLocked(ctx, write{removed: []string{id}}, e); err != nil {
		return err
	}
	r.bus.Emit(bus.ChatDeleted, model.ChatDeletePayload{ID: id})
	return nil
}

// SendMessage appends an own message with status sent and moves the chat
// preview to it.
func (r *Replica) SendMessage(ctx context.Context, chatID, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, apperr.Invalid("send message", "text is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.userLocked("send message")
	if err != nil {
		return model.Message{}, err
	}
	if _, err := r.chatLocked("send message", chatID); err != nil {
		return model.Message{}, err
	}

	now := r.now().UTC()
	m := model.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    u.ID,
		Text:      text,
		Time:      model.TimeLabel(now),
		Timestamp: now,
		Status:    model.StatusSent,
		IsOwn:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.commitLocked(ctx, write{touched: []string{chatID}}, entry(model.EntryMessageAdd, m)); err != nil {
		return model.Message{}, err
	}
	r.bus.Emit(bus.MessageAdded, m)
	return m, nil
}

// LoadMessages reads a chat's messages from the local store, oldest first,
// and refreshes the in-memory copy.
func (r *Replica) LoadMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.chatLocked("load messages", chatID); err != nil {
		return nil, err
	}
	msgs, err := r.local.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	reconcile.SortMessages(msgs)
	r.view.Messages[chatID] = append([]model.Message(nil), msgs...)
	return msgs, nil
}

// UpdateMessageStatus sets the status of one message.
func (r *Replica) UpdateMessageStatus(ctx context.Context, chatID, msgID string, st model.Status) (model.Message, error) {
	if !st.Valid() {
		return model.Message{}, apperr.Invalid("update message status", "unknown status "+string(st))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.chatLocked("update message status", chatID); err != nil {
		return model.Message{}, err
	}
	m, ok := findMessage(r.view.Messages[chatID], msgID)
	if !ok {
		return model.Message{}, apperr.NotFound("update message status", "message "+msgID)
	}
	m.Status = st
	m.UpdatedAt = r.now().UTC()
	if err := r.commitLocked(ctx, write{touched: []string{chatID}}, entry(model.EntryMessageStatusUpdate, m)); err != nil {
		return model.Message{}, err
	}
	r.bus.Emit(bus.MessageStatusChanged, m)
	return m, nil
}

// MarkChatRead marks every received message of a chat read and clears its
// unread count. It returns how many messages changed.
func (r *Replica) MarkChatRead(ctx context.Context, chatID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.chatLocked("mark chat read", chatID)
	if err != nil {
		return 0, err
	}

	now := r.now().UTC()
	var (
		entries     []pending
		changed     []model.Message
		chatChanged bool
	)
	for _, m := range r.view.Messages[chatID] {
		if m.IsOwn || m.Status == model.StatusRead {
			continue
		}
		m.Status = model.StatusRead
		m.UpdatedAt = now
		entries = append(entries, entry(model.EntryMessageStatusUpdate, m))
		changed = append(changed, m)
	}
	if c.UnreadCount != 0 {
		c.UnreadCount = 0
		c.UpdatedAt = now
		entries = append(entries, entry(model.EntryChatUpdate, c))
		chatChanged = true
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := r.commitLocked(ctx, write{touched: []string{chatID}}, entries...); err != nil {
		return 0, err
	}
	for _, m := range changed {
		r.bus.Emit(bus.MessageStatusChanged, m)
	}
	if chatChanged {
		r.bus.Emit(bus.ChatUpdated, c)
	}
	return len(changed), nil
}

// Sync runs one reconciliation cycle now.
func (r *Replica) Sync(ctx context.Context) (*intsync.Report, error) {
	return r.orch.Sync(ctx)
}

// Snapshot returns a copy of the in-memory projection.
func (r *Replica) Snapshot() *local.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Chats returns the chat list, newest first as stored.
func (r *Replica) Chats() []model.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Chat(nil), r.view.Chats...)
}

// LastSyncTime returns the completion time of the last successful cycle in
// this session, or nil.
func (r *Replica) LastSyncTime() *time.Time {
	return r.orch.State().LastSyncTime
}

// SyncState returns the observable sync state.
func (r *Replica) SyncState() intsync.State {
	return r.orch.State()
}

// QueueDepth returns how many mutations wait for the next cycle.
func (r *Replica) QueueDepth(ctx context.Context) (int, error) {
	return r.queue.Len(ctx)
}

// PendingChanges lists the queued mutations, oldest first.
func (r *Replica) PendingChanges(ctx context.Context) ([]model.QueueEntry, error) {
	return r.queue.Pending(ctx)
}

// resume loads the replica of a stored session and moves to IDLE.
func (r *Replica) resume(ctx context.Context, u model.User) error {
	r.mu.Lock()
	snap, err := r.local.Load(ctx)
	if err == nil {
		if snap.Messages == nil {
			snap.Messages = make(map[string][]model.Message)
		}
		r.view = snap
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := r.orch.Restore(ctx); err != nil {
		return err
	}
	if err := r.machine.SignIn(); err != nil {
		return err
	}
	r.logger.Info("session resumed", zap.String("user_id", u.ID))
	r.bus.Emit(bus.SessionSignedIn, u)
	r.startBackground()
	return nil
}

// signIn stores u as the signed-in user and moves to IDLE. Data left by a
// different user is wiped first.
func (r *Replica) signIn(ctx context.Context, u model.User) error {
	r.mu.Lock()
	err := r.adoptLocked(ctx, u)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.orch.Reset()
	if err := r.machine.SignIn(); err != nil {
		return err
	}
	r.logger.Info("signed in", zap.String("user_id", u.ID))
	r.bus.Emit(bus.SessionSignedIn, u)
	r.startBackground()
	return nil
}

func (r *Replica) adoptLocked(ctx context.Context, u model.User) error {
	snap, err := r.local.Load(ctx)
	if err != nil {
		return err
	}
	if ownedByOther(snap.Chats, u.ID) {
		r.logger.Info("clearing data of previous user", zap.Int("chats", len(snap.Chats)))
		if err := r.local.Wipe(ctx); err != nil {
			return err
		}
		snap = &local.Snapshot{}
	}
	if err := r.local.SaveUser(ctx, u); err != nil {
		return err
	}
	snap.User = &u
	if snap.Messages == nil {
		snap.Messages = make(map[string][]model.Message)
	}
	r.view = snap
	return nil
}

func (r *Replica) startBackground() {
	if r.autoSync {
		r.orch.Start(r.bg)
	}
}

func (r *Replica) requireSignedOut(op string) error {
	if r.machine.Current() != status.SignedOut {
		return apperr.Invalid(op, "already signed in, log out first")
	}
	return nil
}

func (r *Replica) userLocked(op string) (*model.User, error) {
	if r.view.User == nil || r.machine.Current() == status.SignedOut {
		return nil, apperr.Session(op)
	}
	return r.view.User, nil
}

func (r *Replica) chatLocked(op, id string) (model.Chat, error) {
	if _, err := r.userLocked(op); err != nil {
		return model.Chat{}, err
	}
	i := r.view.ChatIndex(id)
	if i < 0 {
		return model.Chat{}, apperr.NotFound(op, "chat "+id)
	}
	return r.view.Chats[i], nil
}

// write names the message lists a mutation touches besides the chat list.
type write struct {
	touched []string
	removed []string
}

// pending is an entry not yet stamped by the queue clock.
type pending struct {
	typ     model.EntryType
	payload any
}

func entry(t model.EntryType, payload any) pending {
	return pending{typ: t, payload: payload}
}

// commitLocked applies entries to a copy of the projection, writes the
// result through to the local store, queues the entries and swaps the
// projection in.
func (r *Replica) commitLocked(ctx context.Context, w write, ps ...pending) error {
	entries := make([]outbox.Entry, 0, len(ps))
	for _, p := range ps {
		e, err := outbox.NewEntry(p.typ, p.payload, r.queue.Now())
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	next := r.view.Clone()
	if err := outbox.Replay(next, entries); err != nil {
		return apperr.Invalid("apply mutation", err.Error())
	}

	change := local.Change{
		SetChats:       true,
		Chats:          next.Chats,
		Messages:       make(map[string][]model.Message, len(w.touched)),
		RemoveMessages: w.removed,
	}
	for _, id := range w.touched {
		change.Messages[id] = next.Messages[id]
	}
	if err := r.local.Write(ctx, change); err != nil {
		return err
	}
	r.view = next

	// The local write is what a cycle merges; a lost entry only matters for
	// deletes, which the next cycle would otherwise miss.
	if err := r.queue.Append(ctx, entries...); err != nil {
		r.logger.Error("mutation stored but not queued", zap.Error(err))
		return err
	}
	return nil
}

func findMessage(msgs []model.Message, id string) (model.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

func ownedByOther(chats []model.Chat, userID string) bool {
	for _, c := range chats {
		if c.UserID != "" && c.UserID != userID {
			return true
		}
	}
	return false
}

func emptyView() *local.Snapshot {
	return &local.Snapshot{Messages: make(map[string][]model.Message)}
}

// Package sync runs reconciliation cycles: one at a time, on a timer or on
// demand, committing the merged snapshot and clearing the consumed queue.
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/local"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/outbox"
	"github.com/matheus3301/jot/internal/reconcile"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/status"
	"go.uber.org/zap"
)

// DefaultInterval is the period between automatic cycles.
const DefaultInterval = 60 * time.Second

// Merger computes a merged snapshot.
type Merger interface {
	Run(ctx context.Context, in reconcile.Input) (*reconcile.Result, error)
}

// Profiles makes sure the signed-in user exists remotely.
type Profiles interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	SaveUser(ctx context.Context, u model.User) (model.User, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Machine  *status.Machine
	Local    *local.Store
	Queue    *outbox.Queue
	Merger   Merger
	Profiles Profiles
	Bus      *bus.Bus
	Logger   *zap.Logger
	// Lock guards the local snapshot against concurrent writers. The
	// orchestrator holds it only while reading and while committing.
	Lock sync.Locker
}

// State is the observable sync state.
type State struct {
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	Syncing      bool       `json:"syncing"`
}

// Orchestrator owns the sync state of one signed-in session.
type Orchestrator struct {
	machine  *status.Machine
	local    *local.Store
	queue    *outbox.Queue
	merger   Merger
	profiles Profiles
	bus      *bus.Bus
	logger   *zap.Logger
	lock     sync.Locker
	now      func() time.Time

	mu          sync.Mutex
	lastSync    *time.Time
	userEnsured bool
	onCommit    func(*local.Snapshot)
	interval    time.Duration
	intervalCh  chan time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Lock == nil {
		d.Lock = &sync.Mutex{}
	}
	return &Orchestrator{
		machine:    d.Machine,
		local:      d.Local,
		queue:      d.Queue,
		merger:     d.Merger,
		profiles:   d.Profiles,
		bus:        d.Bus,
		logger:     d.Logger,
		lock:       d.Lock,
		now:        time.Now,
		interval:   DefaultInterval,
		intervalCh: make(chan time.Duration, 1),
	}
}

// OnCommit registers fn to receive every committed snapshot. fn runs with
// the snapshot lock held.
func (o *Orchestrator) OnCommit(fn func(*local.Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCommit = fn
}

// State returns the current sync state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := State{Syncing: o.machine.IsSyncing()}
	if o.lastSync != nil {
		t := *o.lastSync
		st.LastSyncTime = &t
	}
	return st
}

// Restore loads the persisted last-sync time into the state.
func (o *Orchestrator) Restore(ctx context.Context) error {
	t, ok, err := o.local.LastSync(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.lastSync = &t
	} else {
		o.lastSync = nil
	}
	return nil
}

// Reset clears the session-scoped state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastSync = nil
	o.userEnsured = false
}

// Sync runs one reconciliation cycle. It fails immediately with BUSY when a
// cycle is already running. On failure the local store is left as it was.
func (o *Orchestrator) Sync(ctx context.Context) (*Report, error) {
	if err := o.machine.Begin(); err != nil {
		return nil, err
	}
	defer o.machine.End()

	o.bus.Emit(bus.SyncStarted, nil)
	report, err := o.run(ctx)
	if err != nil {
		o.logger.Error("sync failed", zap.Error(err))
		o.bus.Emit(bus.SyncFailed, apperr.ToResult(err))
		return nil, err
	}

	o.logger.Info("sync completed",
		zap.Int("drained", report.Drained),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("chats_created", report.Stats.ChatsCreated),
		zap.Int("chats_adopted", report.Stats.ChatsAdopted),
		zap.Int("messages_created", report.Stats.MessagesCreated),
		zap.Int("messages_adopted", report.Stats.MessagesAdopted),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	o.bus.Emit(bus.SyncCompleted, report)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context) (*Report, error) {
	started := o.now().UTC()

	o.lock.Lock()
	snap, err := o.local.Load(ctx)
	var consumed []outbox.Entry
	if err == nil {
		consumed, err = o.queue.Pending(ctx)
	}
	o.lock.Unlock()
	if err != nil {
		return nil, err
	}
	if snap.User == nil {
		return nil, apperr.Session("sync")
	}

	o.ensureUser(ctx, *snap.User)

	res, err := o.merger.Run(ctx, reconcile.Input{
		UserID:   snap.User.ID,
		Chats:    snap.Chats,
		Messages: snap.Messages,
		Deleted:  outbox.DeletedChats(consumed),
	})
	if err != nil {
		return nil, err
	}
	merged := &local.Snapshot{User: snap.User, Chats: res.Chats, Messages: res.Messages}

	o.lock.Lock()
	defer o.lock.Unlock()

	current, err := o.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}
	n := len(consumed)
	if n > len(current) {
		n = len(current)
	}
	if err := outbox.Replay(merged, current[n:]); err != nil {
		return nil, apperr.Storage("replay queue", err)
	}
	if err := o.local.CommitSnapshot(ctx, merged); err != nil {
		return nil, err
	}
	if err := o.queue.Trim(ctx, n); err != nil {
		return nil, err
	}
	for _, id := range res.PendingDeletes {
		if _, err := o.queue.Enqueue(ctx, model.EntryChatDelete, model.ChatDeletePayload{ID: id}); err != nil {
			o.logger.Warn("failed to requeue chat delete", zap.String("chat_id", id), zap.Error(err))
		}
	}

	finished := o.now().UTC()
	if err := o.local.SaveLastSync(ctx, finished); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.lastSync = &finished
	onCommit := o.onCommit
	o.mu.Unlock()
	if onCommit != nil {
		onCommit(merged.Clone())
	}

	report := &Report{
		StartedAt:      started,
		FinishedAt:     finished,
		Drained:        n,
		Stats:          res.Stats,
		PendingDeletes: res.PendingDeletes,
	}
	for _, s := range res.Skipped {
		report.Skipped = append(report.Skipped, s.Error())
	}
	return report, nil
}

// ensureUser pushes the profile once per session when the remote store has
// never seen it. Failures are logged; the cycle decides reachability.
func (o *Orchestrator) ensureUser(ctx context.Context, u model.User) {
	if o.profiles == nil {
		return
	}
	o.mu.Lock()
	done := o.userEnsured
	o.mu.Unlock()
	if done {
		return
	}

	_, err := o.profiles.GetUser(ctx, u.ID)
	if errors.Is(err, remote.ErrNotFound) {
		_, err = o.profiles.SaveUser(ctx, u)
	}
	if err != nil {
		o.logger.Warn("user profile not confirmed remotely", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	o.mu.Lock()
	o.userEnsured = true
	o.mu.Unlock()
}

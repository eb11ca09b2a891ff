package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/local"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/outbox"
	"github.com/matheus3301/jot/internal/reconcile"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/remote/remotetest"
	"github.com/matheus3301/jot/internal/status"
	"github.com/matheus3301/jot/internal/store"
)

type harness struct {
	orch    *Orchestrator
	local   *local.Store
	queue   *outbox.Queue
	mem     *remotetest.Memory
	machine *status.Machine
	bus     *bus.Bus
}

// gatedMerger wraps a real engine and, when gate is set, blocks each run
// until gate is closed.
type gatedMerger struct {
	inner   Merger
	entered chan struct{}
	gate    chan struct{}
	runs    int
}

func (g *gatedMerger) Run(ctx context.Context, in reconcile.Input) (*reconcile.Result, error) {
	g.runs++
	if g.gate != nil {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.inner.Run(ctx, in)
}

func newHarness(t *testing.T, merger func(Merger) Merger) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		local: local.New(db),
		mem:   remotetest.NewMemory(),
		bus:   bus.New(),
	}
	h.queue = outbox.New(h.local, nil)
	h.machine = status.NewMachine(h.bus)
	adapter := remote.NewAdapter(h.mem, remote.Options{RetryDelay: time.Millisecond}, nil)
	var m Merger = reconcile.New(adapter, nil)
	if merger != nil {
		m = merger(m)
	}
	h.orch = New(Deps{
		Machine:  h.machine,
		Local:    h.local,
		Queue:    h.queue,
		Merger:   m,
		Profiles: adapter,
		Bus:      h.bus,
	})
	return h
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	if err := h.local.SaveUser(context.Background(), model.User{ID: "u1", Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := h.machine.SignIn(); err != nil {
		t.Fatal(err)
	}
}

// addChat writes a chat through locally and queues it, as the replica does.
func (h *harness) addChat(t *testing.T, c model.Chat) {
	t.Helper()
	ctx := context.Background()
	chats, err := h.local.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.local.SaveChats(ctx, append(chats, c)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.queue.Enqueue(ctx, model.EntryChatAdd, c); err != nil {
		t.Fatal(err)
	}
}

func TestSyncDrainsQueueAndRecordsCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	for _, id := range []string{"c1", "c2", "c3"} {
		h.addChat(t, model.Chat{ID: id, UserID: "u1", Name: id})
	}
	finish := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time { return finish }
	ctx := context.Background()

	report, err := h.orch.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Drained != 3 {
		t.Errorf("drained = %d, want 3", report.Drained)
	}
	if n, _ := h.queue.Len(ctx); n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}
	last, ok, err := h.local.LastSync(ctx)
	if err != nil || !ok || !last.Equal(finish) {
		t.Errorf("persisted last sync = %v, %v, %v; want %v", last, ok, err, finish)
	}
	st := h.orch.State()
	if st.LastSyncTime == nil || !st.LastSyncTime.Equal(finish) {
		t.Errorf("state last sync = %v, want %v", st.LastSyncTime, finish)
	}
	if st.Syncing {
		t.Error("still syncing after the cycle returned")
	}
	if h.machine.Current() != status.Idle {
		t.Errorf("machine = %s, want IDLE", h.machine.Current())
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if _, ok := h.mem.Chat(id); !ok {
			t.Errorf("chat %s not pushed", id)
		}
	}
}

func TestSyncRejectsConcurrentRequests(t *testing.T) {
	var gm *gatedMerger
	h := newHarness(t, func(m Merger) Merger {
		gm = &gatedMerger{inner: m, entered: make(chan struct{}, 1), gate: make(chan struct{})}
		return gm
	})
	h.signIn(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(context.Background())
		errc <- err
	}()
	<-gm.entered

	if _, err := h.orch.Sync(context.Background()); !apperr.Is(err, apperr.KindBusy) {
		t.Errorf("concurrent Sync = %v, want BUSY", err)
	}
	if !h.orch.State().Syncing {
		t.Error("state does not report the in-flight cycle")
	}

	close(gm.gate)
	if err := <-errc; err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if gm.runs != 1 {
		t.Errorf("merger ran %d times, want 1", gm.runs)
	}
}

func TestFailedSyncLeavesLocalUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	h.addChat(t, model.Chat{ID: "c1", UserID: "u1", Name: "A"})
	h.mem.Fail = func(string, string) error { return errors.New("network unreachable") }
	events, unsub := h.bus.Subscribe("sync.", 10)
	defer unsub()
	ctx := context.Background()

	if _, err := h.orch.Sync(ctx); !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("Sync = %v, want REMOTE", err)
	}

	chats, _ := h.local.Chats(ctx)
	if len(chats) != 1 || chats[0].Name != "A" {
		t.Errorf("local chats changed: %+v", chats)
	}
	if n, _ := h.queue.Len(ctx); n != 1 {
		t.Errorf("queue depth = %d, want 1", n)
	}
	if _, ok, _ := h.local.LastSync(ctx); ok {
		t.Error("last sync advanced after a failed cycle")
	}
	if h.machine.Current() != status.Idle {
		t.Errorf("machine = %s, want IDLE", h.machine.Current())
	}

	var kinds []string
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	if len(kinds) != 2 || kinds[1] != bus.SyncFailed {
		t.Errorf("events = %v, want [sync.started sync.failed]", kinds)
	}
}

func TestMutationsDuringCycleSurvive(t *testing.T) {
	var gm *gatedMerger
	h := newHarness(t, func(m Merger) Merger {
		gm = &gatedMerger{inner: m, entered: make(chan struct{}, 1), gate: make(chan struct{})}
		return gm
	})
	h.signIn(t)
	h.addChat(t, model.Chat{ID: "before", UserID: "u1"})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(ctx)
		errc <- err
	}()
	<-gm.entered
	h.addChat(t, model.Chat{ID: "during", UserID: "u1"})
	close(gm.gate)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	chats, err := h.local.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, c := range chats {
		ids[c.ID] = true
	}
	if !ids["before"] || !ids["during"] {
		t.Errorf("local chats = %+v, want both before and during", chats)
	}
	pending, _ := h.queue.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("queue depth = %d, want the entry added during the cycle", len(pending))
	}
	var c model.Chat
	if err := pending[0].DecodePayload(&c); err != nil || c.ID != "during" {
		t.Errorf("remaining entry = %+v (%v), want chat during", c, err)
	}
}

func TestFailedDeletesAreRequeued(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	h.mem.SeedChat(model.Chat{ID: "c9", UserID: "u1"})
	h.mem.Fail = func(op, _ string) error {
		if op == remotetest.OpDeleteChat {
			return errors.New("timeout")
		}
		return nil
	}
	ctx := context.Background()
	if _, err := h.queue.Enqueue(ctx, model.EntryChatDelete, model.ChatDeletePayload{ID: "c9"}); err != nil {
		t.Fatal(err)
	}

	report, err := h.orch.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.PendingDeletes) != 1 {
		t.Errorf("pending deletes = %v", report.PendingDeletes)
	}
	pending, _ := h.queue.Pending(ctx)
	if got := outbox.DeletedChats(pending); len(got) != 1 || got[0] != "c9" {
		t.Errorf("requeued deletes = %v, want [c9]", got)
	}
	chats, _ := h.local.Chats(ctx)
	if len(chats) != 0 {
		t.Errorf("deleted chat adopted back: %+v", chats)
	}
}

func TestSyncWithoutUserIsSessionError(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.machine.SignIn(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Sync(context.Background()); !apperr.Is(err, apperr.KindSession) {
		t.Errorf("Sync = %v, want SESSION", err)
	}
}

func TestProfileIsPushedOncePerSession(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.orch.Sync(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := h.mem.Calls(remotetest.OpPutUser); got != 1 {
		t.Errorf("profile pushes = %d, want 1", got)
	}
	if got := h.mem.Calls(remotetest.OpGetUser); got != 1 {
		t.Errorf("profile lookups = %d, want 1", got)
	}

	h.orch.Reset()
	if _, err := h.orch.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.mem.Calls(remotetest.OpGetUser); got != 2 {
		t.Errorf("profile lookups after reset = %d, want 2", got)
	}
}

func TestOnCommitReceivesMergedSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	h.mem.SeedChat(model.Chat{ID: "remote", UserID: "u1"})

	var got *local.Snapshot
	h.orch.OnCommit(func(s *local.Snapshot) { got = s })
	if _, err := h.orch.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got.Chats) != 1 || got.Chats[0].ID != "remote" {
		t.Errorf("committed snapshot = %+v", got)
	}
}

func TestTimerRunsCycles(t *testing.T) {
	h := newHarness(t, nil)
	h.signIn(t)
	events, unsub := h.bus.Subscribe(bus.SyncCompleted, 10)
	defer unsub()

	h.orch.SetInterval(10 * time.Millisecond)
	h.orch.Start(context.Background())
	if !h.orch.Running() {
		t.Error("Running() = false after Start")
	}

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran on the timer")
	}

	h.orch.Stop()
	if h.orch.Running() {
		t.Error("Running() = true after Stop")
	}
	h.orch.Stop()
}

func TestSetIntervalIgnoresNonPositive(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.SetInterval(0)
	if h.orch.Interval() != DefaultInterval {
		t.Errorf("interval = %v, want default", h.orch.Interval())
	}
	h.orch.SetInterval(time.Minute)
	if h.orch.Interval() != time.Minute {
		t.Errorf("interval = %v, want 1m", h.orch.Interval())
	}
}

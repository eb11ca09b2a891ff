package replica

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
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/remote/remotetest"
	"github.com/matheus3301/jot/internal/status"
	"github.com/matheus3301/jot/internal/store"
)

var errOffline = errors.New("network unreachable")

type fixture struct {
	db    *store.DB
	local *local.Store
	mem   *remotetest.Memory
	bus   *bus.Bus
	r     *Replica
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, mem: remotetest.NewMemory(), bus: bus.New()}
	f.r = f.open(t)
	return f
}

// open builds a fresh Replica over the fixture's database, as a restart would.
func (f *fixture) open(t *testing.T) *Replica {
	t.Helper()
	f.local = local.New(f.db)
	r := New(Options{
		Local:  f.local,
		Queue:  outbox.New(f.local, nil),
		Remote: remote.NewAdapter(f.mem, remote.Options{RetryDelay: time.Millisecond}, nil),
		Bus:    f.bus,
	})
	t.Cleanup(r.Close)
	return r
}

func (f *fixture) offline(on bool) {
	if !on {
		f.mem.Fail = nil
		return
	}
	f.mem.Fail = func(string, string) error { return errOffline }
}

func register(t *testing.T, r *Replica) model.User {
	t.Helper()
	u, err := r.Register(context.Background(), "Ana", "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestRegisterSignsInAndPushesProfile(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("session.", 8)
	defer unsub()

	u := register(t, f.r)
	if u.ID == "" || u.CreatedAt.IsZero() {
		t.Fatalf("user = %+v", u)
	}
	if got := f.r.Machine().Current(); got != status.Idle {
		t.Errorf("state = %s, want IDLE", got)
	}
	if f.mem.Calls(remotetest.OpPutUser) != 1 {
		t.Error("profile not pushed")
	}
	stored, err := f.local.User(context.Background())
	if err != nil || stored == nil || stored.ID != u.ID {
		t.Errorf("stored user = %+v, err = %v", stored, err)
	}

	var signedIn bool
	for len(events) > 0 {
		if evt := <-events; evt.Kind == bus.SessionSignedIn {
			signedIn = true
		}
	}
	if !signedIn {
		t.Error("no session.signed_in event")
	}

	if _, err := f.r.Register(context.Background(), "Bo", "bo@example.com"); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("second register err = %v, want INVALID", err)
	}
}

func TestRegisterOfflineStillSignsIn(t *testing.T) {
	f := newFixture(t)
	f.offline(true)

	u := register(t, f.r)
	if f.r.User() == nil || f.r.User().ID != u.ID {
		t.Fatal("not signed in")
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, user, email string
	}{
		{"empty name", " ", "a@b.c"},
		{"empty email", "Ana", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.r.Register(context.Background(), tt.user, tt.email); !apperr.Is(err, apperr.KindInvalid) {
				t.Errorf("err = %v, want INVALID", err)
			}
		})
	}
}

func TestMutationsRequireSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.r.AddChat(ctx, "A", ""); !apperr.Is(err, apperr.KindSession) {
		t.Errorf("AddChat err = %v, want SESSION", err)
	}
	if _, err := f.r.SendMessage(ctx, "c1", "hi"); !apperr.Is(err, apperr.KindSession) {
		t.Errorf("SendMessage err = %v, want SESSION", err)
	}
	if _, err := f.r.Sync(ctx); !apperr.Is(err, apperr.KindSession) {
		t.Errorf("Sync err = %v, want SESSION", err)
	}
}

func TestSendMessageWritesThroughAndQueues(t *testing.T) {
	f := newFixture(t)
	u := register(t, f.r)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe("message.", 4)
	defer unsub()

	c, err := f.r.AddChat(ctx, "Bob", "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := f.r.SendMessage(ctx, c.ID, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != model.StatusSent || !m.IsOwn || m.UserID != u.ID || m.Time == "" {
		t.Errorf("message = %+v", m)
	}

	chats, err := f.local.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].LastMessage != "hello" || !chats[0].LastMessageTime.Equal(m.Timestamp) {
		t.Errorf("stored chats = %+v", chats)
	}
	msgs, err := f.r.LoadMessages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Errorf("messages = %+v", msgs)
	}
	if n, _ := f.r.QueueDepth(ctx); n != 2 {
		t.Errorf("queue depth = %d, want 2", n)
	}
	if len(events) != 1 || (<-events).Kind != bus.MessageAdded {
		t.Error("no message.added event")
	}

	if _, err := f.r.SendMessage(ctx, "missing", "x"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("send to missing chat err = %v, want NOT_FOUND", err)
	}
	if _, err := f.r.SendMessage(ctx, c.ID, "  "); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("empty text err = %v, want INVALID", err)
	}
}

func TestOfflineMutationsReachRemoteOnceOnline(t *testing.T) {
	f := newFixture(t)
	register(t, f.r)
	ctx := context.Background()
	f.offline(true)

	c, err := f.r.AddChat(ctx, "Bob", "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := f.r.SendMessage(ctx, c.ID, "queued while offline")
	if err != nil {
		t.Fatal(err)
	}
	before := f.r.Snapshot()

	if _, err := f.r.Sync(ctx); !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("offline sync err = %v, want REMOTE", err)
	}
	if f.r.LastSyncTime() != nil {
		t.Error("last sync advanced on failure")
	}
	if n, _ := f.r.QueueDepth(ctx); n != 2 {
		t.Errorf("queue depth after failure = %d, want 2", n)
	}
	if got := f.r.Snapshot(); len(got.Chats) != len(before.Chats) || got.Chats[0].LastMessage != "queued while offline" {
		t.Errorf("projection changed by failed sync: %+v", got.Chats)
	}

	f.offline(false)
	report, err := f.r.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Stats.ChatsCreated != 1 || report.Stats.MessagesCreated != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if _, ok := f.mem.Chat(c.ID); !ok {
		t.Error("chat missing remotely")
	}
	if _, ok := f.mem.Message(m.ID); !ok {
		t.Error("message missing remotely")
	}
	if n, _ := f.r.QueueDepth(ctx); n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}
	if f.r.LastSyncTime() == nil || f.r.SyncState().Syncing {
		t.Errorf("state = %+v", f.r.SyncState())
	}
}

func TestDeleteChatPropagates(t *testing.T) {
	f := newFixture(t)
	register(t, f.r)
	ctx := context.Background()

	c, err := f.r.AddChat(ctx, "Bob", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.r.SendMessage(ctx, c.ID, "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.r.DeleteChat(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := f.local.Messages(ctx, c.ID); len(msgs) != 0 {
		t.Errorf("messages kept after delete: %+v", msgs)
	}
	if len(f.r.Chats()) != 0 {
		t.Error("chat still in projection")
	}

	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.mem.Chat(c.ID); ok {
		t.Error("chat still stored remotely")
	}
	if len(f.r.Chats()) != 0 {
		t.Error("deleted chat came back")
	}
	if err := f.r.DeleteChat(ctx, c.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second delete err = %v, want NOT_FOUND", err)
	}
}

func TestUpdateChatRenames(t *testing.T) {
	f := newFixture(t)
	register(t, f.r)
	ctx := context.Background()
	c, err := f.r.AddChat(ctx, "Bob", "")
	if err != nil {
		t.Fatal(err)
	}

	name := "Robert"
	got, err := f.r.UpdateChat(ctx, c.ID, model.ChatPatch{Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != name || got.UpdatedAt.Before(c.UpdatedAt) {
		t.Errorf("chat = %+v", got)
	}
	if _, err := f.r.UpdateChat(ctx, c.ID, model.ChatPatch{}); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("empty patch err = %v, want INVALID", err)
	}
}

func TestMarkChatReadAndStatusUpdates(t *testing.T) {
	f := newFixture(t)
	u := register(t, f.r)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	f.mem.SeedChat(model.Chat{ID: "c1", UserID: u.ID, Name: "Bob", UnreadCount: 2, UpdatedAt: t0})
	f.mem.SeedMessage(model.Message{ID: "m1", ChatID: "c1", Text: "a", Status: model.StatusDelivered, Timestamp: t0})
	f.mem.SeedMessage(model.Message{ID: "m2", ChatID: "c1", Text: "b", Status: model.StatusDelivered, Timestamp: t0.Add(time.Second)})
	f.mem.SeedMessage(model.Message{ID: "m3", ChatID: "c1", Text: "c", Status: model.StatusSent, IsOwn: true, Timestamp: t0.Add(2 * time.Second)})
	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	n, err := f.r.MarkChatRead(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d, want 2", n)
	}
	msgs, err := f.r.LoadMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		want := model.StatusRead
		if m.IsOwn {
			want = model.StatusSent
		}
		if m.Status != want {
			t.Errorf("%s status = %s, want %s", m.ID, m.Status, want)
		}
	}
	if c := f.r.Chats()[0]; c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	if n, _ := f.r.MarkChatRead(ctx, "c1"); n != 0 {
		t.Errorf("second mark = %d, want 0", n)
	}

	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if m, _ := f.mem.Message("m1"); m.Status != model.StatusRead {
		t.Errorf("remote m1 status = %s, want read", m.Status)
	}

	if _, err := f.r.UpdateMessageStatus(ctx, "c1", "m1", "seen"); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("bad status err = %v, want INVALID", err)
	}
	if _, err := f.r.UpdateMessageStatus(ctx, "c1", "nope", model.StatusRead); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("missing message err = %v, want NOT_FOUND", err)
	}
}

func TestLogoutKeepsDataForSameUser(t *testing.T) {
	f := newFixture(t)
	u := register(t, f.r)
	ctx := context.Background()
	if _, err := f.r.AddChat(ctx, "Bob", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.r.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if f.r.User() != nil || f.r.LastSyncTime() != nil {
		t.Error("session state survived logout")
	}
	if got := f.r.Machine().Current(); got != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", got)
	}
	if _, err := f.r.AddChat(ctx, "X", ""); !apperr.Is(err, apperr.KindSession) {
		t.Errorf("AddChat after logout err = %v, want SESSION", err)
	}

	if _, err := f.r.Login(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if len(f.r.Chats()) != 1 {
		t.Errorf("chats after re-login = %d, want 1", len(f.r.Chats()))
	}
}

func TestLoginAsOtherUserClearsReplica(t *testing.T) {
	f := newFixture(t)
	register(t, f.r)
	ctx := context.Background()
	if _, err := f.r.AddChat(ctx, "Bob", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.r.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	other := model.User{ID: "u2", Name: "Caio", Email: "caio@example.com"}
	if err := f.mem.PutUser(ctx, other); err != nil {
		t.Fatal(err)
	}
	got, err := f.r.Login(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Caio" {
		t.Errorf("user = %+v", got)
	}
	if len(f.r.Chats()) != 0 {
		t.Error("previous user's chats visible")
	}
	if n, _ := f.r.QueueDepth(ctx); n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}

	if err := f.r.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.r.Login(ctx, "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown user err = %v, want NOT_FOUND", err)
	}
}

func TestOpenResumesStoredSession(t *testing.T) {
	f := newFixture(t)
	u := register(t, f.r)
	ctx := context.Background()
	c, err := f.r.AddChat(ctx, "Bob", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.r.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	f.r.Close()

	r2 := f.open(t)
	got, err := r2.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("user = %+v", got)
	}
	if chats := r2.Chats(); len(chats) != 1 || chats[0].ID != c.ID {
		t.Errorf("chats = %+v", chats)
	}
	if r2.LastSyncTime() == nil {
		t.Error("last sync time not restored")
	}
	if r2.Machine().Current() != status.Idle {
		t.Errorf("state = %s, want IDLE", r2.Machine().Current())
	}
}

func TestOpenWithoutUser(t *testing.T) {
	f := newFixture(t)
	u, err := f.r.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Errorf("user = %+v, want nil", u)
	}
	if f.r.Machine().Current() != status.SignedOut {
		t.Error("signed in without a stored user")
	}
}

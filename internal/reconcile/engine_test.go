package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/matheus3301/jot/internal/apperr"
	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
	"github.com/matheus3301/jot/internal/remote/remotetest"
)

var (
	jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func testEngine(t *testing.T) (*Engine, *remotetest.Memory) {
	t.Helper()
	mem := remotetest.NewMemory()
	a := remote.NewAdapter(mem, remote.Options{MaxRetries: 0, RetryDelay: time.Millisecond}, nil)
	return New(a, nil), mem
}

func message(id, chatID string, ts time.Time, status model.Status) model.Message {
	return model.Message{
		ID: id, ChatID: chatID, UserID: "u1", Text: "text " + id,
		Time: model.TimeLabel(ts), Timestamp: ts, Status: status, IsOwn: true,
		CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestRemoteNewerChatWins(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", UpdatedAt: feb, LastMessage: "hello"})

	res, err := e.Run(context.Background(), Input{
		UserID: "u1",
		Chats:  []model.Chat{{ID: "c1", UserID: "u1", UpdatedAt: jan, LastMessage: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chats) != 1 || res.Chats[0].LastMessage != "hello" {
		t.Fatalf("merged chats = %+v, want c1 with lastMessage hello", res.Chats)
	}
	if mem.Calls(remotetest.OpPatchChat) != 0 {
		t.Error("remote chat was updated although it was newer")
	}
}

func TestLastWriterWins(t *testing.T) {
	tests := []struct {
		name       string
		local      time.Time
		remote     time.Time
		wantLocal  bool
		wantPushes int
	}{
		{"local newer", feb, jan, true, 1},
		{"remote newer", jan, feb, false, 0},
		{"tie goes to remote", jan, jan, false, 0},
		{"local absent", time.Time{}, jan, false, 0},
		{"remote absent", jan, time.Time{}, true, 1},
		{"both absent", time.Time{}, time.Time{}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem := testEngine(t)
			mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", Name: "remote", UpdatedAt: tt.remote})

			res, err := e.Run(context.Background(), Input{
				UserID: "u1",
				Chats:  []model.Chat{{ID: "c1", UserID: "u1", Name: "local", UpdatedAt: tt.local}},
			})
			if err != nil {
				t.Fatal(err)
			}
			want := "remote"
			if tt.wantLocal {
				want = "local"
			}
			if got := res.Chats[0].Name; got != want {
				t.Errorf("merged name = %q, want %q", got, want)
			}
			if got := mem.Calls(remotetest.OpPatchChat); got != tt.wantPushes {
				t.Errorf("remote updates = %d, want %d", got, tt.wantPushes)
			}
			if stored, _ := mem.Chat("c1"); stored.Name != want {
				t.Errorf("remote name = %q, want %q", stored.Name, want)
			}
		})
	}
}

func TestLocalOnlyMessageIsCreatedUnchanged(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", UpdatedAt: jan})
	m1 := message("m1", "c1", feb, model.StatusSent)

	res, err := e.Run(context.Background(), Input{
		UserID:   "u1",
		Chats:    []model.Chat{{ID: "c1", UserID: "u1", UpdatedAt: jan}},
		Messages: map[string][]model.Message{"c1": {m1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	stored, ok := mem.Message("m1")
	if !ok || stored.Status != model.StatusSent {
		t.Fatalf("remote m1 = %+v, %v; want status sent", stored, ok)
	}
	if diff := cmp.Diff([]model.Message{m1}, res.Messages["c1"]); diff != "" {
		t.Errorf("merged messages mismatch (-want +got):\n%s", diff)
	}
	if res.Chats[0].LastMessage != m1.Text {
		t.Errorf("chat preview = %q, want %q", res.Chats[0].LastMessage, m1.Text)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "r1", UserID: "u1", Name: "remote only", UpdatedAt: jan})
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", Name: "shared", UpdatedAt: jan})
	mem.SeedMessage(message("m2", "c1", jan, model.StatusDelivered))
	mem.SeedMessage(message("m9", "r1", jan, model.StatusSent))

	in := Input{
		UserID: "u1",
		Chats: []model.Chat{
			{ID: "c1", UserID: "u1", Name: "renamed", UpdatedAt: feb},
			{ID: "l1", UserID: "u1", Name: "local only", UpdatedAt: feb},
		},
		Messages: map[string][]model.Message{
			"c1": {message("m1", "c1", feb, model.StatusSent), message("m2", "c1", jan, model.StatusRead)},
			"l1": {message("m3", "l1", feb, model.StatusSent)},
		},
	}
	first, err := e.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	second, err := e.Run(context.Background(), Input{UserID: "u1", Chats: first.Chats, Messages: first.Messages})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Chats, second.Chats); diff != "" {
		t.Errorf("chats changed on second run (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Errorf("messages changed on second run (-first +second):\n%s", diff)
	}
	if second.Stats != (Stats{}) {
		t.Errorf("second run did work: %+v", second.Stats)
	}
}

func TestNoDataLoss(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "r1", UserID: "u1", UpdatedAt: jan})
	mem.SeedMessage(message("rm", "r1", jan, model.StatusSent))
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", UpdatedAt: jan})
	mem.SeedMessage(message("remote-msg", "c1", jan, model.StatusSent))
	mem.Fail = func(op, id string) error {
		if op == remotetest.OpPutChat && id == "l2" {
			return errors.New("write rejected")
		}
		if op == remotetest.OpPutMessage && id == "lm1" {
			return errors.New("write rejected")
		}
		return nil
	}

	res, err := e.Run(context.Background(), Input{
		UserID: "u1",
		Chats: []model.Chat{
			{ID: "c1", UserID: "u1", UpdatedAt: jan},
			{ID: "l2", UserID: "u1", UpdatedAt: feb},
		},
		Messages: map[string][]model.Message{
			"c1": {message("lm1", "c1", feb, model.StatusSent)},
			"l2": {message("lm2", "l2", feb, model.StatusSent)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	chats := map[string]bool{}
	for _, c := range res.Chats {
		chats[c.ID] = true
	}
	for _, id := range []string{"c1", "l2", "r1"} {
		if !chats[id] {
			t.Errorf("chat %s lost", id)
		}
	}
	msgs := map[string]bool{}
	for _, list := range res.Messages {
		for _, m := range list {
			msgs[m.ID] = true
		}
	}
	for _, id := range []string{"lm1", "lm2", "rm", "remote-msg"} {
		if !msgs[id] {
			t.Errorf("message %s lost", id)
		}
	}
	if len(res.Skipped) != 2 {
		t.Errorf("skipped = %v, want 2 items", res.Skipped)
	}
	for _, s := range res.Skipped {
		if !apperr.Is(s, apperr.KindConflictSkipped) {
			t.Errorf("skip %v is not CONFLICT_SKIPPED", s)
		}
	}
	if got := mem.Calls(remotetest.OpMessagesByChat); got != 2 {
		t.Errorf("message listings = %d, want 2 (the chat that failed to create is not listed)", got)
	}
}

func TestStatusPushChangesOnlyStatus(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", UpdatedAt: jan})
	remoteMsg := message("m1", "c1", jan, model.StatusDelivered)
	mem.SeedMessage(remoteMsg)

	res, err := e.Run(context.Background(), Input{
		UserID:   "u1",
		Chats:    []model.Chat{{ID: "c1", UserID: "u1", UpdatedAt: jan}},
		Messages: map[string][]model.Message{"c1": {message("m1", "c1", jan, model.StatusRead)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := res.Messages["c1"][0]
	if got.Status != model.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}
	ignore := cmpopts.IgnoreFields(model.Message{}, "Status", "UpdatedAt")
	if diff := cmp.Diff(remoteMsg, got, ignore); diff != "" {
		t.Errorf("fields other than status changed (-remote +merged):\n%s", diff)
	}
	if stored, _ := mem.Message("m1"); stored.Status != model.StatusRead {
		t.Errorf("remote status = %q, want read", stored.Status)
	}
}

func TestUnreachableRemoteFailsCycle(t *testing.T) {
	e, mem := testEngine(t)
	mem.Fail = func(string, string) error { return errors.New("dial tcp: connection refused") }

	res, err := e.Run(context.Background(), Input{UserID: "u1", Chats: []model.Chat{{ID: "c1"}}})
	if !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("err = %v, want REMOTE", err)
	}
	if res != nil {
		t.Error("partial result returned")
	}
}

func TestDeletedChatsArePropagated(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "gone", UserID: "u1", UpdatedAt: jan})
	mem.SeedChat(model.Chat{ID: "stuck", UserID: "u1", UpdatedAt: jan})
	mem.Fail = func(op, id string) error {
		if op == remotetest.OpDeleteChat && id == "stuck" {
			return errors.New("timeout")
		}
		return nil
	}

	res, err := e.Run(context.Background(), Input{UserID: "u1", Deleted: []string{"gone", "stuck", "never-synced"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chats) != 0 {
		t.Errorf("deleted chats came back: %+v", res.Chats)
	}
	if _, ok := mem.Chat("gone"); ok {
		t.Error("remote chat not deleted")
	}
	if diff := cmp.Diff([]string{"stuck"}, res.PendingDeletes); diff != "" {
		t.Errorf("pending deletes mismatch (-want +got):\n%s", diff)
	}
	if res.Stats.ChatsDeleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Stats.ChatsDeleted)
	}
}

func TestMergedMessagesAreOrdered(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", UpdatedAt: feb})
	mem.SeedMessage(message("b", "c1", jan, model.StatusSent))
	mem.SeedMessage(message("z", "c1", feb.Add(time.Hour), model.StatusSent))

	res, err := e.Run(context.Background(), Input{
		UserID: "u1",
		Chats:  []model.Chat{{ID: "c1", UserID: "u1", UpdatedAt: feb}},
		Messages: map[string][]model.Message{"c1": {
			message("y", "c1", feb, model.StatusSent),
			message("a", "c1", jan, model.StatusSent),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range res.Messages["c1"] {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "y", "z"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestWinningLocalChatKeepsNewestPreview(t *testing.T) {
	e, mem := testEngine(t)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", Name: "chat", LastMessage: "text m2", LastMessageTime: feb, UpdatedAt: feb})
	mem.SeedMessage(message("m1", "c1", jan, model.StatusSent))
	mem.SeedMessage(message("m2", "c1", feb, model.StatusSent))

	in := Input{
		UserID: "u1",
		Chats: []model.Chat{{
			ID: "c1", UserID: "u1", Name: "renamed",
			LastMessage: "text m1", LastMessageTime: jan, UpdatedAt: mar,
		}},
		Messages: map[string][]model.Message{"c1": {message("m1", "c1", jan, model.StatusSent)}},
	}
	res, err := e.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}

	got := res.Chats[0]
	if got.Name != "renamed" {
		t.Errorf("name = %q, want renamed", got.Name)
	}
	if got.LastMessage != "text m2" || !got.LastMessageTime.Equal(feb) {
		t.Errorf("merged preview = %q@%v, want text m2@%v", got.LastMessage, got.LastMessageTime, feb)
	}
	stored, _ := mem.Chat("c1")
	if stored.LastMessage != "text m2" || !stored.LastMessageTime.Equal(feb) {
		t.Errorf("remote preview = %q@%v, want text m2@%v", stored.LastMessage, stored.LastMessageTime, feb)
	}
	if res.Stats.PreviewsRefreshed != 1 {
		t.Errorf("previews refreshed = %d, want 1", res.Stats.PreviewsRefreshed)
	}

	second, err := e.Run(context.Background(), Input{UserID: "u1", Chats: res.Chats, Messages: res.Messages})
	if err != nil {
		t.Fatal(err)
	}
	if second.Stats != (Stats{}) {
		t.Errorf("second run did work: %+v", second.Stats)
	}
}

func TestPreviewIgnoresUnsentMessages(t *testing.T) {
	e, mem := testEngine(t)
	mem.SeedChat(model.Chat{ID: "c1", UserID: "u1", LastMessage: "text m1", LastMessageTime: jan, UpdatedAt: jan})
	mem.SeedMessage(message("m1", "c1", jan, model.StatusSent))
	mem.Fail = func(op, id string) error {
		if op == remotetest.OpPutMessage && id == "m2" {
			return errors.New("write rejected")
		}
		return nil
	}

	res, err := e.Run(context.Background(), Input{
		UserID:   "u1",
		Chats:    []model.Chat{{ID: "c1", UserID: "u1", LastMessage: "text m1", LastMessageTime: jan, UpdatedAt: jan}},
		Messages: map[string][]model.Message{"c1": {message("m2", "c1", feb, model.StatusSent)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := mem.Calls(remotetest.OpPatchChat); got != 0 {
		t.Errorf("remote updates = %d, want 0", got)
	}
	if got := res.Chats[0].LastMessage; got != "text m1" {
		t.Errorf("preview = %q, want text m1", got)
	}
}

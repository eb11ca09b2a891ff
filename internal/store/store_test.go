package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("database left dirty")
	}
}

func TestSetGetRemove(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.Get(ctx, "user"); err != nil || ok {
		t.Fatalf("Get on empty db = ok %v, err %v", ok, err)
	}

	if err := db.Set(ctx, "user", `{"id":"u1"}`); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(ctx, "user", `{"id":"u2"}`); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get(ctx, "user")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if v != `{"id":"u2"}` {
		t.Errorf("value = %s, want the second write", v)
	}

	if err := db.Remove(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	if err := db.Remove(ctx, "user"); err != nil {
		t.Fatalf("removing an absent key: %v", err)
	}
	if _, ok, _ := db.Get(ctx, "user"); ok {
		t.Error("key still present after Remove")
	}
}

func TestListKeysMatchesPrefixLiterally(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, k := range []string{"messages_b", "messages_a", "messagesX", "chats", "messages_%", "MESSAGES_c", "Messages_d"} {
		if err := db.Set(ctx, k, "[]"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListKeys(ctx, "messages_")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"messages_%", "messages_a", "messages_b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestSetManyAppliesSetsAndRemovals(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Set(ctx, "messages_old", "[]"); err != nil {
		t.Fatal(err)
	}
	err := db.SetMany(ctx, map[string]string{
		"chats":       `[{"id":"c1"}]`,
		"messages_c1": `[]`,
	}, []string{"messages_old"})
	if err != nil {
		t.Fatal(err)
	}

	keys, err := db.ListKeys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"chats", "messages_c1"}, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestSetManyRollsBackOnCancelledContext(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.SetMany(ctx, map[string]string{"chats": "[]"}, nil)
	if err == nil {
		t.Fatal("SetMany with a cancelled context should fail")
	}
	if _, ok, _ := db.Get(context.Background(), "chats"); ok {
		t.Error("partial write visible after failed SetMany")
	}
}

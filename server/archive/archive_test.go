package archive

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGet(t *testing.T) {
	repo, err := NewRepository(openTestDB(t, "archive_get"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	e := &Entity{
		Title:  "concert.mp4",
		Source: "https://example.com/watch?v=1",
		Path:   "/downloads/concert.mp4",
		Kind:   "media-video",
		Bytes:  1 << 20,
	}
	if err := repo.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if e.Id == "" {
		t.Fatal("insert should mint an id")
	}
	if e.CreatedAt.IsZero() {
		t.Fatal("insert should stamp created_at")
	}

	got, err := repo.Get(ctx, e.Id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != e.Title || got.Source != e.Source || got.Bytes != e.Bytes {
		t.Fatalf("roundtrip mismatch: %#v", got)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo, err := NewRepository(openTestDB(t, "archive_list"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, title := range []string{"oldest", "middle", "newest"} {
		e := &Entity{Title: title, Source: "s", Path: "p", Kind: "direct-file", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d", len(entries))
	}
	if entries[0].Title != "newest" || entries[1].Title != "middle" {
		t.Fatalf("order wrong: %s, %s", entries[0].Title, entries[1].Title)
	}
}

func TestDelete(t *testing.T) {
	repo, err := NewRepository(openTestDB(t, "archive_delete"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	e := &Entity{Title: "t", Source: "s", Path: "p", Kind: "direct-file"}
	if err := repo.Insert(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, e.Id); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, e.Id); err == nil {
		t.Fatal("expected missing row after delete")
	}
}

func TestListEmptyIsNotNil(t *testing.T) {
	repo, err := NewRepository(openTestDB(t, "archive_empty"))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := repo.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("want empty slice, got %#v", entries)
	}
}

func TestContainerRejectsBrokenDatabase(t *testing.T) {
	db := openTestDB(t, "archive_broken")
	db.Close()

	if _, _, err := Container(db); err == nil {
		t.Fatal("expected an error from a closed database")
	}
}

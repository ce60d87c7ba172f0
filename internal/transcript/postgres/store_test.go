package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/speakline/internal/transcript"
	"github.com/MrWong99/speakline/internal/transcript/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SPEAKLINE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SPEAKLINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SPEAKLINE_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on an empty transcripts table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcripts CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func record(id, stream, text string, at time.Time) transcript.Record {
	return transcript.Record{
		ID:        id,
		StreamID:  stream,
		Text:      text,
		RawText:   text,
		Provider:  "whisper",
		Offset:    2 * time.Second,
		Duration:  1500 * time.Millisecond,
		CreatedAt: at,
	}
}

func TestStore_WriteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)

	rec := record("seg-1", "s1", "deploy it to Kubernetes today", base)
	rec.RawText = "deploy it to kubernetis today"
	rec.Corrections = []transcript.Correction{{Original: "kubernetis", Corrected: "Kubernetes", Confidence: 0.96}}
	if err := store.Write(ctx, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, record("seg-2", "s2", "hello there", base.Add(time.Second))); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.List(ctx, transcript.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d records, want 2", len(got))
	}
	first := got[0]
	if first.ID != "seg-1" || first.RawText != "deploy it to kubernetis today" {
		t.Errorf("first record = %+v", first)
	}
	if first.Offset != 2*time.Second || first.Duration != 1500*time.Millisecond {
		t.Errorf("durations = %v/%v", first.Offset, first.Duration)
	}
	if len(first.Corrections) != 1 || first.Corrections[0].Corrected != "Kubernetes" {
		t.Errorf("corrections = %+v", first.Corrections)
	}
	if got[1].Corrections != nil {
		t.Errorf("second record corrections = %+v, want nil", got[1].Corrections)
	}
}

func TestStore_DuplicateIDIgnored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("seg-1", "s1", "once", time.Now())
	for range 2 {
		if err := store.Write(ctx, rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	got, err := store.List(ctx, transcript.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func TestStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, r := range []transcript.Record{
		record("a", "s1", "Speakline standup starts now", base),
		record("b", "s2", "lunch is ready", base.Add(time.Minute)),
		record("c", "s1", "the Speakline demo went well", base.Add(2*time.Minute)),
		record("d", "s1", "see you tomorrow", base.Add(3*time.Minute)),
	} {
		if err := store.Write(ctx, r); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	tests := []struct {
		name  string
		q     transcript.Query
		wants []string
	}{
		{"stream", transcript.Query{StreamID: "s2"}, []string{"b"}},
		{"text", transcript.Query{Text: "speakline"}, []string{"a", "c"}},
		{"since", transcript.Query{Since: base.Add(90 * time.Second)}, []string{"c", "d"}},
		{"limit keeps newest", transcript.Query{StreamID: "s1", Limit: 2}, []string{"c", "d"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.List(ctx, tc.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tc.wants) {
				t.Fatalf("got %d records, want %d", len(got), len(tc.wants))
			}
			for i, id := range tc.wants {
				if got[i].ID != id {
					t.Errorf("record %d = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if store.Name() != "postgres" {
		t.Errorf("Name() = %q", store.Name())
	}
}

func TestNewStore_BadDSN(t *testing.T) {
	if _, err := postgres.NewStore(context.Background(), "://not a dsn"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/weichinwang/marketagent/llm"
)

// backends returns one fresh instance of every ConversationStore
// implementation, so the shared behavior is tested uniformly.
func backends(t *testing.T) map[string]ConversationStore {
	t.Helper()

	sqlite, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSaveAndLoad(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			history := []llm.ChatMessage{
				{Role: "user", Content: "What was Apple's revenue in 2022 Q1?"},
				{Role: "assistant", Content: "97,278 million USD."},
			}

			if err := store.Save(ctx, "sess-1", history); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := store.Load(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(loaded) != 2 {
				t.Fatalf("expected 2 messages, got %d", len(loaded))
			}
			if loaded[0].Role != "user" || loaded[1].Content != "97,278 million USD." {
				t.Errorf("unexpected history: %+v", loaded)
			}
		})
	}
}

func TestSaveReplacesHistory(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Save(ctx, "sess-1", []llm.ChatMessage{
				{Role: "user", Content: "one"},
				{Role: "assistant", Content: "two"},
			}); err != nil {
				t.Fatalf("first Save failed: %v", err)
			}
			if err := store.Save(ctx, "sess-1", []llm.ChatMessage{
				{Role: "user", Content: "replaced"},
			}); err != nil {
				t.Fatalf("second Save failed: %v", err)
			}

			loaded, err := store.Load(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(loaded) != 1 || loaded[0].Content != "replaced" {
				t.Errorf("history not replaced: %+v", loaded)
			}
		})
	}
}

func TestLoadUnknownSessionIsEmpty(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			loaded, err := store.Load(context.Background(), "never-saved")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded == nil || len(loaded) != 0 {
				t.Errorf("expected empty slice, got %#v", loaded)
			}
		})
	}
}

func TestDeleteAndExists(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, "sess-1", []llm.ChatMessage{{Role: "user", Content: "hi"}}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			exists, err := store.Exists(ctx, "sess-1")
			if err != nil || !exists {
				t.Fatalf("Exists = %v, %v; want true", exists, err)
			}

			if err := store.Delete(ctx, "sess-1"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			exists, err = store.Exists(ctx, "sess-1")
			if err != nil || exists {
				t.Fatalf("Exists after delete = %v, %v; want false", exists, err)
			}

			loaded, err := store.Load(ctx, "sess-1")
			if err != nil || len(loaded) != 0 {
				t.Errorf("Load after delete = %v, %v; want empty", loaded, err)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg := []llm.ChatMessage{{Role: "user", Content: "hi"}}
			if err := store.Save(ctx, "sess-a", msg); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := store.Save(ctx, "sess-b", msg); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			sessions, err := store.ListSessions(ctx)
			if err != nil {
				t.Fatalf("ListSessions failed: %v", err)
			}
			if len(sessions) != 2 {
				t.Errorf("expected 2 sessions, got %v", sessions)
			}
		})
	}
}

func TestMemoryStoreCopiesHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []llm.ChatMessage{{Role: "user", Content: "original"}}
	if err := store.Save(ctx, "sess", original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	original[0].Content = "mutated"

	loaded, err := store.Load(ctx, "sess")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded[0].Content != "original" {
		t.Errorf("stored history shares memory with caller: %q", loaded[0].Content)
	}
}

func TestOpenSqliteCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "agent.db")
	store, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	defer store.Close()

	if err := store.Save(context.Background(), "sess", []llm.ChatMessage{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

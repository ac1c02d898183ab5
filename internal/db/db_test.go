package db

import (
	"path/filepath"
	"testing"
)

func TestOpenIsIdempotentAndCreatesVectorColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskwatch.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()

	for _, column := range []string{"text_embedding", "doc_embedding"} {
		var found int
		err := conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('item_vectors') WHERE name = ?", column).Scan(&found)
		if err != nil {
			t.Fatalf("inspect item_vectors: %v", err)
		}
		if found != 1 {
			t.Fatalf("expected item_vectors.%s to exist", column)
		}
	}
}

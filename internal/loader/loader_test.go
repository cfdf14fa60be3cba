package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/recordcache/recordcache/pkg/errors"
	"github.com/recordcache/recordcache/pkg/types"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJSONLinesSourceReadsInOrder(t *testing.T) {
	path := writeLines(t,
		`{"key":{"id":"a","category":"widget"},"name":"widget a","size":210}`,
		``,
		`{"key":{"id":"b","category":"widget"},"name":"widget b"}`,
	)

	records, err := NewJSONLinesSource(path, nil).Records(context.Background())
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Key.ID != "a" || records[1].Key.ID != "b" {
		t.Errorf("order not preserved: %s, %s", records[0].Key, records[1].Key)
	}
	if records[0].Size != 210 {
		t.Errorf("declared size = %d, want 210", records[0].Size)
	}
	if records[1].Size != 0 {
		t.Errorf("undeclared size = %d, want 0", records[1].Size)
	}

	var rec types.BasicRecord
	if err := json.Unmarshal(records[0].Payload, &rec); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if rec.Name != "widget a" {
		t.Errorf("payload name = %q, want %q", rec.Name, "widget a")
	}
}

func TestJSONLinesSourceMalformedLine(t *testing.T) {
	path := writeLines(t,
		`{"key":{"id":"a","category":"widget"},"name":"widget a"}`,
		`{this is not json`,
	)

	_, err := NewJSONLinesSource(path, nil).Records(context.Background())
	if !errors.IsCode(err, errors.ErrCodeCorruptEntry) {
		t.Fatalf("expected CORRUPT_ENTRY, got %v", err)
	}
}

func TestJSONLinesSourceIncompleteKey(t *testing.T) {
	path := writeLines(t, `{"key":{"id":"a"},"name":"no category"}`)

	_, err := NewJSONLinesSource(path, nil).Records(context.Background())
	if !errors.IsCode(err, errors.ErrCodeCorruptEntry) {
		t.Fatalf("expected CORRUPT_ENTRY, got %v", err)
	}
}

func TestJSONLinesSourceMissingFile(t *testing.T) {
	src := NewJSONLinesSource(filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	_, err := src.Records(context.Background())
	if !errors.IsCode(err, errors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD, got %v", err)
	}
}

func TestJSONLinesSourceCanceledContext(t *testing.T) {
	path := writeLines(t, `{"key":{"id":"a","category":"widget"},"name":"widget a"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewJSONLinesSource(path, nil).Records(ctx); err == nil {
		t.Fatal("expected an error from a canceled context")
	}
}

func TestSliceSourceCopies(t *testing.T) {
	backing := []types.BulkRecord{
		{Key: types.CacheKey{ID: "a", Category: "widget"}, Size: 10},
	}
	src := SliceSource(backing)

	records, err := src.Records(context.Background())
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	backing[0].Size = 99
	if records[0].Size != 10 {
		t.Error("returned records should not alias the backing slice")
	}
}

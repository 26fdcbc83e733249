package toollog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "toollog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if err := l.Record(ctx, "query_icp_rules", map[string]any{"brain_id": "brain_x_1"}, 3, 42*time.Millisecond, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx, "add_insight", map[string]any{"brain_id": "brain_x_1"}, 0, 120*time.Millisecond, errors.New("store down")); err != nil {
		t.Fatalf("Record with error: %v", err)
	}

	entries, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Most recent first.
	if entries[0].Tool != "add_insight" || entries[0].Error != "store down" {
		t.Fatalf("first entry: %+v", entries[0])
	}
	if entries[1].Tool != "query_icp_rules" || entries[1].ResultCount != 3 {
		t.Fatalf("second entry: %+v", entries[1])
	}
	if entries[1].Duration != 42*time.Millisecond {
		t.Fatalf("duration: %v", entries[1].Duration)
	}
	if entries[1].ParamsHash == "" || len(entries[1].ParamsHash) != 16 {
		t.Fatalf("params digest: %q", entries[1].ParamsHash)
	}
}

func TestParamsAreDigestedNotStored(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	secret := "prospect@example.com said the budget is 50k"
	if err := l.Record(ctx, "add_insight", map[string]any{"content": secret}, 1, time.Millisecond, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := l.Recent(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent: %v", err)
	}
	if entries[0].ParamsHash == secret {
		t.Fatal("raw params stored in log")
	}
}

func TestCountByTool(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Record(ctx, "list_brains", nil, 2, time.Millisecond, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := l.Record(ctx, "get_brain", nil, 1, time.Millisecond, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	counts, err := l.CountByTool(ctx)
	if err != nil {
		t.Fatalf("CountByTool: %v", err)
	}
	if counts["list_brains"] != 3 || counts["get_brain"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "log.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Close()
}

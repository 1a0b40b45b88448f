package store

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/harvest/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRecord(plugin, key string, value any) *model.Record {
	return &model.Record{
		Plugin:      plugin,
		Key:         key,
		Value:       value,
		CollectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestPutGetRecord(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("host", "cpu.count", float64(8))
	if err := st.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := st.GetRecord(ctx, "host", "cpu.count")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatal("GetRecord returned nil for existing record")
	}
	if got.Value != float64(8) {
		t.Errorf("Value = %v, want 8", got.Value)
	}
	if !got.CollectedAt.Equal(rec.CollectedAt) {
		t.Errorf("CollectedAt = %v, want %v", got.CollectedAt, rec.CollectedAt)
	}
}

func TestGetRecord_Missing(t *testing.T) {
	st := testStore(t)

	got, err := st.GetRecord(context.Background(), "host", "nope")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got != nil {
		t.Errorf("GetRecord = %+v, want nil for missing record", got)
	}
}

func TestPutRecord_Upsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.PutRecord(ctx, sampleRecord("host", "uptime", float64(10))); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := st.PutRecord(ctx, sampleRecord("host", "uptime", float64(20))); err != nil {
		t.Fatalf("PutRecord (overwrite): %v", err)
	}

	got, err := st.GetRecord(ctx, "host", "uptime")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Value != float64(20) {
		t.Errorf("Value = %v, want 20 after overwrite", got.Value)
	}

	recs, err := st.ListRecords(ctx, "host")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("ListRecords returned %d records, want 1 (upsert, not append)", len(recs))
	}
}

func TestListRecords_OrderedByKey(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for _, key := range []string{"c", "a", "b"} {
		if err := st.PutRecord(ctx, sampleRecord("host", key, key)); err != nil {
			t.Fatalf("PutRecord(%s): %v", key, err)
		}
	}
	if err := st.PutRecord(ctx, sampleRecord("other", "z", "z")); err != nil {
		t.Fatalf("PutRecord(other): %v", err)
	}

	recs, err := st.ListRecords(ctx, "host")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ListRecords returned %d records, want 3", len(recs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if recs[i].Key != want {
			t.Errorf("recs[%d].Key = %s, want %s", i, recs[i].Key, want)
		}
	}
}

func TestListPlugins(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for _, plugin := range []string{"net", "host", "net"} {
		if err := st.PutRecord(ctx, sampleRecord(plugin, plugin+".key", 1)); err != nil {
			t.Fatalf("PutRecord(%s): %v", plugin, err)
		}
	}

	plugins, err := st.ListPlugins(ctx)
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	if len(plugins) != 2 || plugins[0] != "host" || plugins[1] != "net" {
		t.Errorf("ListPlugins = %v, want [host net]", plugins)
	}
}

func TestDeleteRecords(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.PutRecord(ctx, sampleRecord("host", "a", 1)); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := st.PutRecord(ctx, sampleRecord("net", "b", 2)); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	if err := st.DeleteRecords(ctx, "host"); err != nil {
		t.Fatalf("DeleteRecords: %v", err)
	}

	recs, err := st.ListRecords(ctx, "host")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("host records remain after delete: %d", len(recs))
	}

	recs, err = st.ListRecords(ctx, "net")
	if err != nil {
		t.Fatalf("ListRecords(net): %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("net records = %d, want 1 (untouched by delete)", len(recs))
	}
}

func TestPutRecord_StructuredValue(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	value := map[string]any{"os": "linux", "cores": float64(4)}
	if err := st.PutRecord(ctx, sampleRecord("host", "meta", value)); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	got, err := st.GetRecord(ctx, "host", "meta")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	m, ok := got.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value type = %T, want map[string]any", got.Value)
	}
	if m["os"] != "linux" || m["cores"] != float64(4) {
		t.Errorf("Value = %v, want os=linux cores=4", m)
	}
}

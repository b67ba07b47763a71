package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gencache/gencache/internal/respcache"
)

func waitForPending(t *testing.T, j *Journal, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j.PendingWrites() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("PendingWrites never reached %d, still %d", want, j.PendingWrites())
}

func TestLoad_EmptyWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	j := New(filepath.Join(dir, "cache.jsonl"))

	records, err := j.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records != nil {
		t.Errorf("Load of nonexistent file = %v, want nil", records)
	}
}

func TestEnqueueAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.jsonl")

	j := New(path)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Enqueue(Record{Key: "fp1", Value: respcache.Completion(`{"text":"a"}`)})
	j.Enqueue(Record{Key: "fp1", Value: respcache.Completion(`{"text":"b"}`)})
	waitForPending(t, j, 0)
	j.Shutdown()

	j2 := New(path)
	records, err := j2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Key != "fp1" || string(records[0].Value) != `{"text":"a"}` {
		t.Errorf("first record mismatch: %+v", records[0])
	}
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.jsonl")

	j := New(path)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Enqueue(Record{Key: "fp1", Value: respcache.Completion(`{"text":"a"}`)})
	waitForPending(t, j, 0)
	j.Shutdown()

	appendRaw(t, path, "not json at all\n\n")

	j2 := New(path)
	records, err := j2.Load()
	if err != nil {
		t.Fatalf("Load after malformed line: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (malformed line should be skipped)", len(records))
	}
}

func appendRaw(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("writing: %v", err)
	}
}

func TestClear_TruncatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.jsonl")

	j := New(path)
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Enqueue(Record{Key: "fp1", Value: respcache.Completion(`{"text":"a"}`)})
	waitForPending(t, j, 0)

	if err := j.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	j.Shutdown()

	j2 := New(path)
	records, err := j2.Load()
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) after Clear = %d, want 0", len(records))
	}
}

func TestEnqueue_NonBlocking(t *testing.T) {
	dir := t.TempDir()
	j := New(filepath.Join(dir, "cache.jsonl"))
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer j.Shutdown()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			j.Enqueue(Record{Key: "fp", Value: respcache.Completion(`{}`)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked")
	}
}

func TestRecord_MarshalsKeyAndValue(t *testing.T) {
	rec := Record{Key: "abc", Value: respcache.Completion(`{"text":"x"}`)}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded["key"]; !ok {
		t.Error("missing \"key\" field")
	}
	if _, ok := decoded["value"]; !ok {
		t.Error("missing \"value\" field")
	}
}

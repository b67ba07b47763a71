// Package journal is the append-only on-disk log backing the response
// cache: a background worker drains an unbounded FIFO onto disk so the
// request path never blocks on I/O, and the log can be replayed on
// startup to rebuild the in-memory store.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gencache/gencache/internal/respcache"
)

// Record is one line of the journal: a fingerprint and the completion
// appended under it. Records are independent and idempotent on replay.
type Record struct {
	Key   string                `json:"key"`
	Value respcache.Completion `json:"value"`
}

// Journal is an append-only JSONL file with a single background writer.
// Enqueue never blocks on disk; Clear and Shutdown drain the queue first
// so the file is never observed mid-write.
type Journal struct {
	path string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Record
	writing bool
	closed  bool

	pending atomic.Int64

	file *os.File
	done chan struct{}
}

// New constructs a Journal for the file at path. Callers must call Load
// before Start to replay any existing records.
func New(path string) *Journal {
	j := &Journal{path: path}
	j.cond = sync.NewCond(&j.mu)
	return j
}

// Path returns the on-disk location of the journal file.
func (j *Journal) Path() string {
	return j.path
}

// Load reads the existing journal file, if any, and returns its records
// in file order. Blank and malformed lines are skipped with a logged
// warning; the loader always continues to the end of the file. Load does
// not start the background writer and does not require Start to have
// been called first.
func (j *Journal) Load() ([]Record, error) {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", j.path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn().Err(err).Str("path", j.path).Int("line", lineNo).Msg("journal: skipping malformed line")
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: reading %s: %w", j.path, err)
	}
	return records, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r' || b[start] == '\n') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r' || b[end-1] == '\n') {
		end--
	}
	return b[start:end]
}

// Start opens the journal file for append and launches the background
// writer goroutine.
func (j *Journal) Start() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("journal: creating directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: opening %s for append: %w", j.path, err)
	}

	j.mu.Lock()
	j.file = f
	j.closed = false
	j.mu.Unlock()

	j.done = make(chan struct{})
	go j.run()
	return nil
}

// Enqueue appends a record to the write queue. It never blocks on disk
// I/O; the record is handed to the background worker and Enqueue returns
// as soon as the queue slice has been updated.
func (j *Journal) Enqueue(rec Record) {
	j.mu.Lock()
	j.queue = append(j.queue, rec)
	j.mu.Unlock()
	j.pending.Add(1)
	j.cond.Signal()
}

// PendingWrites returns the number of records enqueued but not yet
// durably written.
func (j *Journal) PendingWrites() int64 {
	return j.pending.Load()
}

func (j *Journal) run() {
	defer close(j.done)
	for {
		j.mu.Lock()
		for len(j.queue) == 0 && !j.closed {
			j.cond.Wait()
		}
		if len(j.queue) == 0 && j.closed {
			j.mu.Unlock()
			return
		}
		rec := j.queue[0]
		j.queue = j.queue[1:]
		j.writing = true
		j.mu.Unlock()

		if err := j.writeRecord(rec); err != nil {
			log.Error().Err(err).Str("path", j.path).Msg("journal: write failed, in-memory state remains authoritative")
		} else {
			j.pending.Add(-1)
		}

		j.mu.Lock()
		j.writing = false
		j.cond.Broadcast()
		j.mu.Unlock()
	}
}

func (j *Journal) writeRecord(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	f := j.file
	j.mu.Unlock()
	if f == nil {
		return fmt.Errorf("journal: file not open")
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending to %s: %w", j.path, err)
	}
	return nil
}

// Clear drains pending writes, then atomically truncates the journal
// file to empty via a temp-file-plus-rename, so the file is never
// observed half-written. A Clear issued while writes are pending
// logically follows those writes.
func (j *Journal) Clear() error {
	j.mu.Lock()
	for len(j.queue) > 0 || j.writing {
		j.cond.Wait()
	}
	j.mu.Unlock()

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, ".journal-clear-*")
	if err != nil {
		return fmt.Errorf("journal: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("journal: renaming temp file over %s: %w", j.path, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.file.Close()
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		j.file = nil
		return fmt.Errorf("journal: reopening %s after clear: %w", j.path, err)
	}
	j.file = f
	return nil
}

// Shutdown signals the worker to stop after draining the queue, waits
// for it to exit, and closes the file.
func (j *Journal) Shutdown() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	j.cond.Broadcast()

	if j.done != nil {
		<-j.done
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
}

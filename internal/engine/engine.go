// Package engine is the cache orchestrator: it combines the fingerprinter,
// the in-memory store, and the on-disk journal into the partial-fill
// lookup/store/stats/clear contract the proxy pipeline drives.
package engine

import (
	"fmt"
	"path/filepath"

	"github.com/gencache/gencache/internal/fingerprint"
	"github.com/gencache/gencache/internal/journal"
	"github.com/gencache/gencache/internal/respcache"
)

// Stats is the cache's externally visible state, returned by /cache/stats
// and embedded in /cache/info.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	NumKeys        int   `json:"num_keys"`
	TotalResponses int64 `json:"total_responses"`
	PendingWrites  int64 `json:"pending_writes"`
}

// Engine is the process-wide cache handle: one per running server,
// constructed explicitly at startup and torn down explicitly at
// shutdown. It is never a package-level implicit global.
type Engine struct {
	store   *respcache.Store
	journal *journal.Journal
}

// journalFilename is the fixed name of the journal file within the
// configured cache directory.
const journalFilename = "cache.jsonl"

// Open constructs the cache engine rooted at dataDir: it replays any
// existing journal into a fresh in-memory store and starts the
// background journal writer.
func Open(dataDir string) (*Engine, error) {
	st := respcache.New()
	j := journal.New(filepath.Join(dataDir, journalFilename))

	records, err := j.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: loading journal: %w", err)
	}
	for _, rec := range records {
		st.Append(rec.Key, []respcache.Completion{rec.Value})
	}

	if err := j.Start(); err != nil {
		return nil, fmt.Errorf("engine: starting journal writer: %w", err)
	}

	return &Engine{store: st, journal: j}, nil
}

// JournalPath returns the on-disk path of the journal file, surfaced by
// /cache/info.
func (e *Engine) JournalPath() string {
	return e.journal.Path()
}

// Lookup normalizes and fingerprints req, and returns whatever
// completions are already cached for it. If the cache holds fewer than
// the requested n, needed is the shortfall the caller must obtain from
// upstream; the returned snapshot is guaranteed invariant under any
// later Store call for the same fingerprint.
func (e *Engine) Lookup(req *fingerprint.Request) (cached []respcache.Completion, needed int, fp string, err error) {
	fpv, n, err := fingerprint.Compute(req)
	if err != nil {
		return nil, 0, "", err
	}
	fpHex := fpv.String()

	snap := e.store.LookupAndRecord(fpHex)
	if len(snap) >= n {
		return snap[:n], 0, fpHex, nil
	}
	return snap, n - len(snap), fpHex, nil
}

// Store appends newly obtained completions under fp and enqueues a
// journal record for each. It never blocks on disk I/O.
func (e *Engine) Store(fp string, completions []respcache.Completion) {
	e.store.Append(fp, completions)
	for _, c := range completions {
		e.journal.Enqueue(journal.Record{Key: fp, Value: c})
	}
}

// Stats returns the current cache statistics.
func (e *Engine) Stats() Stats {
	hits, misses, numKeys, total := e.store.Stats()
	return Stats{
		Hits:           hits,
		Misses:         misses,
		NumKeys:        numKeys,
		TotalResponses: total,
		PendingWrites:  e.journal.PendingWrites(),
	}
}

// Clear empties the in-memory store and, after draining any pending
// writes, atomically truncates the journal file. The two always move
// together: a clear issued while writes are in flight follows them.
func (e *Engine) Clear() error {
	if err := e.journal.Clear(); err != nil {
		return err
	}
	e.store.Clear()
	return nil
}

// Shutdown drains and stops the journal writer and closes its file.
func (e *Engine) Shutdown() {
	e.journal.Shutdown()
}

package workflow

import (
	"sync"
	"time"

	"podindex/internal/queue"
	"podindex/internal/reconcile"
	"podindex/internal/stage"
)

// StageSet bundles the concrete handlers the manager orchestrates. A nil
// handler disables its stage.
type StageSet struct {
	Download   stage.Handler
	Transcript stage.Handler
	Metadata   stage.Handler
	Indexing   stage.Handler
}

func (s StageSet) handler(st queue.Stage) stage.Handler {
	switch st {
	case queue.StageDownload:
		return s.Download
	case queue.StageTranscript:
		return s.Transcript
	case queue.StageMetadata:
		return s.Metadata
	case queue.StageIndexing:
		return s.Indexing
	default:
		return nil
	}
}

// StageTotals counts claim outcomes for one stage.
type StageTotals struct {
	Claimed           int
	Completed         int
	Retried           int
	PermanentlyFailed int
	Skipped           int
	LeaseLost         int
	Errors            int
}

// Summary reports what RunOnce did.
type Summary struct {
	Stages    map[queue.Stage]StageTotals
	Reclaimed int64
	CleanedUp int
	Reconcile *reconcile.Result
	Duration  time.Duration
}

func (s Summary) totals() (completed, failed int) {
	for _, t := range s.Stages {
		completed += t.Completed
		failed += t.PermanentlyFailed
	}
	return completed, failed
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeRetried
	outcomePermanent
	outcomeInterrupted
	outcomeLeaseLost
	outcomeError
)

type lane struct {
	stage     queue.Stage
	handler   stage.Handler
	batchSize int
	workers   int

	mu sync.Mutex
	// deferred holds episodes that failed and went back to pending; they are
	// not selected again before the recorded time.
	deferred map[int64]time.Time
}

func (l *lane) deferUntil(id int64, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deferred[id] = until
}

func (l *lane) eligible(episodes []*queue.Episode, now time.Time) []*queue.Episode {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*queue.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if until, ok := l.deferred[ep.ID]; ok {
			if now.Before(until) {
				continue
			}
			delete(l.deferred, ep.ID)
		}
		out = append(out, ep)
		if len(out) == l.batchSize {
			break
		}
	}
	return out
}

func (l *lane) deferredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.deferred)
}

func (l *lane) resetDeferred() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.deferred)
}

func (t *StageTotals) record(o outcome) {
	switch o {
	case outcomeSkipped:
		t.Skipped++
		return
	case outcomeInterrupted:
		return
	case outcomeCompleted:
		t.Completed++
	case outcomeRetried:
		t.Retried++
	case outcomePermanent:
		t.PermanentlyFailed++
	case outcomeLeaseLost:
		t.LeaseLost++
	case outcomeError:
		t.Errors++
	}
	t.Claimed++
}

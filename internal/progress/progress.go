// Package progress tracks a run's position for status reporting. One Tracker
// lives for the duration of a run and is read concurrently by the status
// endpoint while pipeline workers update it.
package progress

import (
	"sync"
	"time"
)

// Stage names the coarse phase a run is in. Each stage owns a band of the
// overall percentage so the bar moves monotonically through the run.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageParsing   Stage = "parsing"
	StageDedup     Stage = "deduplicating"
	StageMetrics   Stage = "journal_metrics"
	StageSummaries Stage = "summaries"
	StageReport    Stage = "report"
	StageDone      Stage = "done"
)

// stageBands maps each stage to its start and end percent of the whole run.
var stageBands = map[Stage][2]float64{
	StageIdle:      {0, 0},
	StageParsing:   {0, 10},
	StageDedup:     {10, 15},
	StageMetrics:   {15, 30},
	StageSummaries: {30, 90},
	StageReport:    {90, 100},
	StageDone:      {100, 100},
}

// Snapshot is a point-in-time copy of the tracker state, shaped for the
// status poller.
type Snapshot struct {
	IsProcessing     bool    `json:"is_processing"`
	ProgressPercent  float64 `json:"progress"`
	Stage            string  `json:"stage"`
	Message          string  `json:"message"`
	TotalRecords     int     `json:"total_records"`
	ProcessedRecords int     `json:"processed_records"`
	FailedRecords    int     `json:"failed_records"`
	RemainingRecords int     `json:"remaining_records"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// Tracker holds run progress behind one mutex. All mutation paths update
// every dependent counter under the same lock, so a Snapshot never observes
// a processed count ahead of its percent.
type Tracker struct {
	mu sync.Mutex

	processing bool
	stage      Stage
	message    string
	total      int
	processed  int
	failed     int
	startedAt  time.Time

	now func() time.Time
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{stage: StageIdle, now: time.Now}
}

// Start resets the tracker for a new run over total records.
func (t *Tracker) Start(total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = true
	t.stage = StageParsing
	t.message = message
	t.total = total
	t.processed = 0
	t.failed = 0
	t.startedAt = t.now()
}

// TryStart claims the tracker for a new run if none is in flight. The check
// and the claim happen under one lock, so two concurrent callers can never
// both succeed. Returns false, leaving the tracker untouched, when a run is
// already active.
func (t *Tracker) TryStart(total int, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processing {
		return false
	}
	t.processing = true
	t.stage = StageParsing
	t.message = message
	t.total = total
	t.processed = 0
	t.failed = 0
	t.startedAt = t.now()
	return true
}

// SetStage moves the run to a new stage. It also updates the total when a
// stage knows a better count (dedup shrinks the record set).
func (t *Tracker) SetStage(stage Stage, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
	t.message = message
	t.processed = 0
	t.failed = 0
}

// SetTotal fixes the number of work items in the current stage.
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

// JobDone records one completed job. The processed counter, the failed
// counter and the derived percent all move in a single mutation.
func (t *Tracker) JobDone(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	if failed {
		t.failed++
	}
}

// Finish marks the run complete. The final message stays readable by the
// status endpoint until the next Start.
func (t *Tracker) Finish(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = false
	t.stage = StageDone
	t.message = message
}

// Fail marks the run aborted with an error message.
func (t *Tracker) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processing = false
	t.stage = StageIdle
	t.message = message
}

// Processing reports whether a run is in flight.
func (t *Tracker) Processing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processing
}

// Snapshot returns a consistent copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		IsProcessing:     t.processing,
		Stage:            string(t.stage),
		Message:          t.message,
		TotalRecords:     t.total,
		ProcessedRecords: t.processed,
		FailedRecords:    t.failed,
		RemainingRecords: t.total - t.processed,
		ProgressPercent:  t.percentLocked(),
	}
	if s.RemainingRecords < 0 {
		s.RemainingRecords = 0
	}
	if !t.startedAt.IsZero() {
		s.ElapsedSeconds = t.now().Sub(t.startedAt).Seconds()
	}
	return s
}

func (t *Tracker) percentLocked() float64 {
	band, ok := stageBands[t.stage]
	if !ok {
		return 0
	}
	lo, hi := band[0], band[1]
	if t.total <= 0 {
		return lo
	}
	frac := float64(t.processed) / float64(t.total)
	if frac > 1 {
		frac = 1
	}
	return lo + (hi-lo)*frac
}

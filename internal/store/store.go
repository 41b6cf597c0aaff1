// Package store persists run history and the journal metrics cache. Two
// drivers implement the same interface: sqlite for single-machine use and
// postgres for shared deployments.
package store

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a processing run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Run is one recorded processing run.
type Run struct {
	ID             string     `json:"id"`
	Sources        []string   `json:"sources"`
	Status         RunStatus  `json:"status"`
	ParsedRecords  int        `json:"parsed_records"`
	DedupedRecords int        `json:"deduped_records"`
	FailedRecords  int        `json:"failed_records"`
	OutputPath     string     `json:"output_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunResult carries the final counters for a completed run.
type RunResult struct {
	ParsedRecords  int
	DedupedRecords int
	FailedRecords  int
	OutputPath     string
}

// RunFilter narrows ListRuns output.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface shared by both drivers.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, sources []string) (*Run, error)
	FinishRun(ctx context.Context, runID string, result RunResult) error
	FailRun(ctx context.Context, runID, message string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Journal metrics cache
	GetJournalMetrics(ctx context.Context, journal string, maxAge time.Duration) (map[string]string, bool, error)
	PutJournalMetrics(ctx context.Context, journal string, metrics map[string]string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

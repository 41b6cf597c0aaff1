package model

// JobStatus is the terminal/intermediate state of one enrichment job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobRetrying  JobStatus = "retrying"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// EnrichmentJob tracks one record through the enrichment pipeline. Index is
// the record's position in the canonical input, used to restore original
// ordering after concurrent processing.
type EnrichmentJob struct {
	Index    int
	Record   BibliographicRecord
	Attempts int
	Status   JobStatus
	Usage    TokenUsage
	Err      error
}

// TokenUsage tracks LLM token consumption across calls.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

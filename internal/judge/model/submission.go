package model

import (
	"time"

	"codearena/internal/judge/lang"
	"codearena/internal/judge/sandbox/result"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusAccepted            Status = "accepted"
	StatusWrongAnswer         Status = "wrong_answer"
	StatusTimeLimitExceeded   Status = "time_limit_exceeded"
	StatusMemoryLimitExceeded Status = "memory_limit_exceeded"
	StatusRuntimeError        Status = "runtime_error"
	StatusCompileError        Status = "compile_error"
	StatusSystemError         Status = "system_error"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusRunning && s != ""
}

// StatusForKind maps a failure kind to the submission status it surfaces as.
func StatusForKind(kind result.ErrorKind) Status {
	switch kind {
	case result.KindNone:
		return StatusAccepted
	case result.KindWrongAnswer, result.KindComparisonAmbiguous:
		return StatusWrongAnswer
	case result.KindTimeout:
		return StatusTimeLimitExceeded
	case result.KindMemoryExceeded:
		return StatusMemoryLimitExceeded
	case result.KindRuntimeCrash, result.KindOutputTooLarge:
		return StatusRuntimeError
	case result.KindCompileError:
		return StatusCompileError
	case result.KindCancelled:
		return StatusCancelled
	default:
		return StatusSystemError
	}
}

// TestCaseResult is written once per test case per submission.
type TestCaseResult struct {
	TestCaseID      string           `json:"testCaseId"`
	Passed          bool             `json:"passed"`
	ActualOutput    string           `json:"actualOutput"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	MemoryUsedMb    float64          `json:"memoryUsedMb"`
	ErrorMessage    *string          `json:"errorMessage"`
	ErrorKind       result.ErrorKind `json:"errorKind,omitempty"`
	Hidden          bool             `json:"hidden"`
}

// Submission is mutated only by the judge orchestrator.
type Submission struct {
	ID            string           `json:"id"`
	ChallengeID   string           `json:"challengeId"`
	CompetitionID string           `json:"competitionId,omitempty"`
	UserID        string           `json:"userId"`
	SourceCode    string           `json:"sourceCode"`
	Language      lang.Language    `json:"language"`
	Status        Status           `json:"status"`
	Results       []TestCaseResult `json:"results"`
	Score         int              `json:"score"`
	MaxPoints     int              `json:"maxPoints"`
	ErrorKind     result.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	SubmittedAt   time.Time        `json:"submittedAt"`
	StartedAt     time.Time        `json:"startedAt,omitempty"`
	FinishedAt    time.Time        `json:"finishedAt,omitempty"`
}

// Passed counts passing test cases.
func (s Submission) Passed() int {
	n := 0
	for _, r := range s.Results {
		if r.Passed {
			n++
		}
	}
	return n
}

// TotalTimeMs sums execution time over recorded results.
func (s Submission) TotalTimeMs() int64 {
	var total int64
	for _, r := range s.Results {
		total += r.ExecutionTimeMs
	}
	return total
}

// PeakMemoryMb is the largest memory reading over recorded results.
func (s Submission) PeakMemoryMb() float64 {
	var peak float64
	for _, r := range s.Results {
		if r.MemoryUsedMb > peak {
			peak = r.MemoryUsedMb
		}
	}
	return peak
}

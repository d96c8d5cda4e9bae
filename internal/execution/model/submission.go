package model

import "time"

// SubmissionStatus is the aggregate verdict for one submission.
type SubmissionStatus string

const (
	StatusAccepted          SubmissionStatus = "accepted"
	StatusWrongAnswer       SubmissionStatus = "wrong_answer"
	StatusCompilationError  SubmissionStatus = "compilation_error"
	StatusRuntimeError      SubmissionStatus = "runtime_error"
	StatusTimeLimitExceeded SubmissionStatus = "time_limit_exceeded"
)

// Submission represents one user's attempt on one problem.
// A submission is written exactly once and never mutated afterward.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	UserID       int64            `json:"user_id"`
	ProblemID    int64            `json:"problem_id"`
	Language     string           `json:"language"`
	SourceCode   string           `json:"source_code"`
	SourceKey    string           `json:"source_key"`
	Status       SubmissionStatus `json:"status"`

	// TimeList, MemoryList and OutputLog are JSON arrays serialized by test
	// index, kept denormalized for cheap display reads.
	TimeList   string `json:"time_list"`
	MemoryList string `json:"memory_list"`
	OutputLog  string `json:"output_log"`

	CreatedAt time.Time `json:"created_at"`

	TestResults []*TestCaseResult `json:"test_results,omitempty"`
}

// Accepted reports whether every test case passed.
func (s *Submission) Accepted() bool {
	return s != nil && s.Status == StatusAccepted
}

// TestCaseResult is one row per test case per submission.
// Ordinals are 1-based and match the input array order exactly.
type TestCaseResult struct {
	ID            int64  `json:"-"`
	SubmissionID  string `json:"submission_id"`
	Ordinal       int    `json:"ordinal"`
	Passed        bool   `json:"passed"`
	Stdout        string `json:"stdout"`
	Expected      string `json:"expected"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Status        string `json:"status"`
	TimeUsed      string `json:"time_used"`
	MemoryUsed    string `json:"memory_used"`
}

// SolvedMarker records that a user solved a problem, pointing at the most
// recent fully accepted submission. At most one row per (user, problem).
type SolvedMarker struct {
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	SubmissionID string    `json:"submission_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

package service

import (
	"strconv"
	"strings"

	"arenaoj/internal/execution/engine"
	"arenaoj/internal/execution/model"
	appErr "arenaoj/pkg/errors"
)

const (
	zeroTime   = "0 ms"
	zeroMemory = "0 KB"
)

// TestVerdict is the reconciled outcome for one test case.
type TestVerdict struct {
	Ordinal       int
	Passed        bool
	Stdout        string
	Expected      string
	Stderr        string
	CompileOutput string
	Status        model.SubmissionStatus
	TimeUsed      string
	MemoryUsed    string
}

// ReconcileOutcome aggregates the per-test verdicts for one submission.
type ReconcileOutcome struct {
	AllPassed bool
	Aggregate model.SubmissionStatus
	Verdicts  []TestVerdict
}

// reconcile turns raw engine results into verdicts. Correlation with
// expectedOutputs is positional, so length equality is asserted up front.
// A compilation error anywhere aborts reconciliation problem-wide; no
// partial verdicts are produced for it.
func reconcile(results []engine.Result, expectedOutputs []string) (ReconcileOutcome, error) {
	if len(results) != len(expectedOutputs) {
		return ReconcileOutcome{}, appErr.Newf(appErr.EngineBadResponse,
			"got %d results for %d expected outputs", len(results), len(expectedOutputs))
	}

	for i, result := range results {
		if result.IsCompilationError() {
			return ReconcileOutcome{}, appErr.New(appErr.CompilationError).
				WithDetail("test_index", i+1).
				WithDetail("compile_output", result.CompileOutput)
		}
	}

	outcome := ReconcileOutcome{
		AllPassed: true,
		Verdicts:  make([]TestVerdict, 0, len(results)),
	}
	for i, result := range results {
		verdict := TestVerdict{
			Ordinal:       i + 1,
			Stdout:        result.Stdout,
			Expected:      expectedOutputs[i],
			Stderr:        result.Stderr,
			CompileOutput: result.CompileOutput,
			TimeUsed:      formatTime(result.Time),
			MemoryUsed:    formatMemory(result.Memory),
		}
		switch {
		case result.IsRuntimeError():
			verdict.Status = model.StatusRuntimeError
		case result.IsTimeLimitExceeded():
			verdict.Status = model.StatusTimeLimitExceeded
		default:
			// Trimmed exact equality is the sole correctness criterion.
			if strings.TrimSpace(result.Stdout) == strings.TrimSpace(expectedOutputs[i]) {
				verdict.Passed = true
				verdict.Status = model.StatusAccepted
			} else {
				verdict.Status = model.StatusWrongAnswer
			}
		}
		if !verdict.Passed {
			outcome.AllPassed = false
			if outcome.Aggregate == "" {
				outcome.Aggregate = verdict.Status
			}
		}
		outcome.Verdicts = append(outcome.Verdicts, verdict)
	}

	if outcome.AllPassed {
		outcome.Aggregate = model.StatusAccepted
	}
	return outcome, nil
}

// formatTime renders the engine's second-valued time field in milliseconds.
// Absent or unparseable values become a zero-valued string so downstream
// storage never sees a null.
func formatTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zeroTime
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return zeroTime
	}
	return strconv.FormatFloat(seconds*1000, 'f', -1, 64) + " ms"
}

// formatMemory renders the engine's kilobyte-valued memory field.
func formatMemory(raw float64) string {
	if raw <= 0 {
		return zeroMemory
	}
	return strconv.FormatFloat(raw, 'f', -1, 64) + " KB"
}

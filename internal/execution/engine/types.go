package engine

// Engine status ids. Anything past StatusProcessing is terminal.
const (
	StatusInQueue          = 1
	StatusProcessing       = 2
	StatusAccepted         = 3
	StatusWrongAnswer      = 4
	StatusTimeLimit        = 5
	StatusCompilationError = 6
	// 7..12 are the engine's runtime error family (SIGSEGV, SIGXFSZ,
	// SIGFPE, SIGABRT, NZEC, other).
	statusRuntimeErrorLow  = 7
	statusRuntimeErrorHigh = 12
	StatusInternalError    = 13
	StatusExecFormatError  = 14
)

// BatchSubmission is one {source, language, stdin} tuple sent to the engine.
type BatchSubmission struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// Status is the engine-reported state of one queued run.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the raw engine result for one test case. Correlation with the
// request is positional: result index i belongs to request index i.
type Result struct {
	Token         string  `json:"token"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
	CompileOutput string  `json:"compile_output"`
	Message       string  `json:"message"`
	Time          string  `json:"time"`
	Memory        float64 `json:"memory"`
	Status        Status  `json:"status"`
}

// IsTerminal reports whether the run has finished, successfully or not.
func (r Result) IsTerminal() bool {
	return r.Status.ID > StatusProcessing
}

// IsCompilationError reports whether the run failed to compile.
func (r Result) IsCompilationError() bool {
	return r.Status.ID == StatusCompilationError
}

// IsRuntimeError reports whether the engine classified the run as a runtime
// failure.
func (r Result) IsRuntimeError() bool {
	return (r.Status.ID >= statusRuntimeErrorLow && r.Status.ID <= statusRuntimeErrorHigh) ||
		r.Status.ID == StatusInternalError ||
		r.Status.ID == StatusExecFormatError
}

// IsTimeLimitExceeded reports whether the run exceeded its time limit.
func (r Result) IsTimeLimitExceeded() bool {
	return r.Status.ID == StatusTimeLimit
}

type batchSubmitRequest struct {
	Submissions []BatchSubmission `json:"submissions"`
}

type batchSubmitEntry struct {
	Token string `json:"token"`
}

type batchStatusResponse struct {
	Submissions []Result `json:"submissions"`
}

package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 12000-12999: Problem & Language errors
// 13000-13999: Submission & Execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Storage errors (10300-10399)
	StorageError ErrorCode = 10300

	// Validation errors (10400-10499)
	ValidationFailed   ErrorCode = 10400
	InvalidFormat      ErrorCode = 10401
	RequiredFieldEmpty ErrorCode = 10402

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11000
	TokenInvalid ErrorCode = 11001

	// ========== Problem & Language Errors (12000-12999) ==========

	ProblemNotFound      ErrorCode = 12000
	LanguageNotSupported ErrorCode = 12100

	// ========== Submission & Execution Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	SubmitTooFrequently    ErrorCode = 13003

	// Execution engine (13100-13199)
	EngineUnavailable ErrorCode = 13100
	EngineBadResponse ErrorCode = 13101
	ExecutionTimeout  ErrorCode = 13102

	// Verdicts surfaced as errors (13200-13299)
	CompilationError ErrorCode = 13200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",

	// Storage
	StorageError: "Object storage operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem & Language
	ProblemNotFound:      "Problem not found",
	LanguageNotSupported: "Programming language not supported",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	// Execution engine
	EngineUnavailable: "Execution engine is unavailable",
	EngineBadResponse: "Execution engine returned a malformed response",
	ExecutionTimeout:  "Execution did not finish in time",

	// Verdicts
	CompilationError: "Compilation error",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == EngineUnavailable, c == ExecutionTimeout:
		return 503
	case c == EngineBadResponse:
		return 502
	case c >= 10400 && c < 10500: // Validation errors
		return 400
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge, c == CompilationError:
		return 400
	default:
		return 500
	}
}

package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth & Session errors
// 12000-12999: Problem & File errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Worker & Dispatch errors

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
	ServiceUnavailable  ErrorCode = 10006
	Timeout             ErrorCode = 10007

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Storage errors (10300-10399)
	StorageError ErrorCode = 10300

	// Validation errors (10400-10499)
	ValidationFailed ErrorCode = 10400

	// ========== Auth & Session Errors (11000-11999) ==========

	InvalidCredentials ErrorCode = 11000
	SessionExpired     ErrorCode = 11001
	SessionInvalid     ErrorCode = 11002
	SecretMismatch     ErrorCode = 11003
	TokenInvalid       ErrorCode = 11004
	TokenExpired       ErrorCode = 11005

	// Signed links (11100-11199)
	LinkExpired          ErrorCode = 11100
	LinkSignatureInvalid ErrorCode = 11101

	// ========== Problem & File Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestDataNotFound ErrorCode = 12001
	FileNotFound     ErrorCode = 12002
	ManifestFailed   ErrorCode = 12003

	// ========== Submission & Judge Errors (13000-13999) ==========

	SubmissionNotFound ErrorCode = 13000
	TaskEncodeFailed   ErrorCode = 13001
	TaskExpired        ErrorCode = 13002
	UnknownLanguage    ErrorCode = 13003
	StatusWriteFailed  ErrorCode = 13004

	// ========== Worker & Dispatch Errors (14000-14999) ==========

	WorkerUnauthorized ErrorCode = 14000
	WorkerNotFound     ErrorCode = 14001
	ProtocolViolation  ErrorCode = 14002
	DispatchFailed     ErrorCode = 14003
	QueueError         ErrorCode = 14004
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
	ValidationFailed: "Validation failed",

	// Auth & Session
	InvalidCredentials: "Invalid credentials",
	SessionExpired:     "Session has expired",
	SessionInvalid:     "Session token is invalid",
	SecretMismatch:     "Shared secret does not match",
	TokenInvalid:       "Token is invalid",
	TokenExpired:       "Token has expired",

	// Signed links
	LinkExpired:          "Download link has expired",
	LinkSignatureInvalid: "Download link signature is invalid",

	// Problem & File
	ProblemNotFound:  "Problem not found",
	TestDataNotFound: "Test data not found",
	FileNotFound:     "File not found",
	ManifestFailed:   "Failed to build file manifest",

	// Submission & Judge
	SubmissionNotFound: "Submission not found",
	TaskEncodeFailed:   "Failed to encode judge task",
	TaskExpired:        "Judge task expired before dispatch",
	UnknownLanguage:    "Unknown language key",
	StatusWriteFailed:  "Failed to write submission status",

	// Worker & Dispatch
	WorkerUnauthorized: "Worker authentication failed",
	WorkerNotFound:     "Worker connection not found",
	ProtocolViolation:  "Malformed worker protocol message",
	DispatchFailed:     "Failed to dispatch task to worker",
	QueueError:         "Task queue operation failed",
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
	case c >= 11000 && c < 11100: // Authentication errors
		return 401
	case c == Unauthorized, c == WorkerUnauthorized:
		return 401
	case c == Forbidden, c == LinkExpired, c == LinkSignatureInvalid:
		return 403
	case c == NotFound, c == ProblemNotFound, c == SubmissionNotFound,
		c == TestDataNotFound, c == FileNotFound, c == WorkerNotFound:
		return 404
	case c == ServiceUnavailable:
		return 503
	case c == InvalidParams, c == ValidationFailed, c == UnknownLanguage:
		return 400
	default:
		return 500
	}
}

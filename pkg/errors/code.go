package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 12000-12999: Challenge errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Competition errors

const (
	// ========== System & Common Errors (10000-10999) ==========

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
	Conflict            ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Challenge Errors (12000-12999) ==========

	ChallengeNotFound ErrorCode = 12000
	TestCaseInvalid   ErrorCode = 12102

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmissionFinalized    ErrorCode = 13006

	// Judge (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	MarshalFailed       ErrorCode = 13107
	JudgeCancelled      ErrorCode = 13108

	// ========== Competition Errors (14000-14999) ==========

	// Competition basic (14000-14099)
	CompetitionNotFound      ErrorCode = 14000
	CompetitionNotStarted    ErrorCode = 14001
	CompetitionEnded         ErrorCode = 14002
	CompetitionAccessDenied  ErrorCode = 14003
	CompetitionCreateFailed  ErrorCode = 14004
	CompetitionInvalidState  ErrorCode = 14005
	CompetitionNotEnoughJoin ErrorCode = 14006

	// Roster (14100-14199)
	CompetitionFull   ErrorCode = 14100
	AlreadyRegistered ErrorCode = 14101
	NotRegistered     ErrorCode = 14103
	InvitationMissing ErrorCode = 14104

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Conflict:            "Concurrent modification, please retry",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	ChallengeNotFound: "Challenge not found",
	TestCaseInvalid:   "Invalid test case format",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmissionFinalized:    "Submission has already been judged",

	JudgeQueueFull:      "Judge queue is full, please try again later",
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	MarshalFailed:       "Test input does not match the function signature",
	JudgeCancelled:      "Judging was cancelled",

	CompetitionNotFound:      "Competition not found",
	CompetitionNotStarted:    "Competition has not started yet",
	CompetitionEnded:         "Competition has ended",
	CompetitionAccessDenied:  "Access to this competition is denied",
	CompetitionCreateFailed:  "Failed to create competition",
	CompetitionInvalidState:  "Operation not allowed in the current competition state",
	CompetitionNotEnoughJoin: "At least two active participants are required",

	CompetitionFull:   "Competition is full",
	AlreadyRegistered: "Already registered for this competition",
	NotRegistered:     "Not registered for this competition",
	InvitationMissing: "No pending invitation for this user",

	RankingNotAvailable: "Ranking is not available",
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
	case c == Forbidden, c == CompetitionAccessDenied:
		return 403
	case c == NotFound, c == ChallengeNotFound, c == SubmissionNotFound, c == CompetitionNotFound, c == RecordNotFound:
		return 404
	case c == Conflict, c == AlreadyRegistered, c == SubmissionFinalized, c == CompetitionInvalidState, c == CompetitionFull:
		return 409
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == MarshalFailed:
		return 400
	case c >= 14000 && c < 14300:
		return 400
	default:
		return 500
	}
}

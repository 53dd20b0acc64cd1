// Package result defines sandbox execution results and the judging error taxonomy.
package result

import appErr "codearena/pkg/errors"

// ErrorKind classifies why a test case or submission did not pass.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindUnsupportedLanguage ErrorKind = "UnsupportedLanguage"
	KindMarshalError        ErrorKind = "MarshalError"
	KindCompileError        ErrorKind = "CompileError"
	KindTimeout             ErrorKind = "Timeout"
	KindOutputTooLarge      ErrorKind = "OutputTooLarge"
	KindRuntimeCrash        ErrorKind = "RuntimeCrash"
	KindMemoryExceeded      ErrorKind = "MemoryExceeded"
	KindSystemError         ErrorKind = "SystemError"
	KindComparisonAmbiguous ErrorKind = "ComparisonAmbiguous"
	KindWrongAnswer         ErrorKind = "WrongAnswer"
	KindCancelled           ErrorKind = "Cancelled"
)

// ErrorCode maps a kind to the judge error code range.
func (k ErrorKind) ErrorCode() appErr.ErrorCode {
	switch k {
	case KindUnsupportedLanguage:
		return appErr.LanguageNotSupported
	case KindMarshalError:
		return appErr.MarshalFailed
	case KindCompileError:
		return appErr.CompilationError
	case KindTimeout:
		return appErr.TimeLimitExceeded
	case KindOutputTooLarge:
		return appErr.OutputLimitExceeded
	case KindRuntimeCrash:
		return appErr.RuntimeError
	case KindMemoryExceeded:
		return appErr.MemoryLimitExceeded
	case KindCancelled:
		return appErr.JudgeCancelled
	default:
		return appErr.JudgeSystemError
	}
}

// RunResult captures raw sandbox execution data for one process.
type RunResult struct {
	ExitCode       int
	ElapsedMs      int64
	MemoryKB       int64
	Stdout         string
	Stderr         string
	TimedOut       bool
	OutputTooLarge bool
	OomKilled      bool
	Cancelled      bool
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK        bool
	Skipped   bool
	ExitCode  int
	ElapsedMs int64
	Log       string
}

// Classify maps a finished run onto the error taxonomy. KindNone means the
// process exited cleanly and its stdout still has to be compared.
func Classify(res RunResult, memoryLimitMB int64) ErrorKind {
	switch {
	case res.Cancelled:
		return KindCancelled
	case res.TimedOut:
		return KindTimeout
	case res.OomKilled, memoryLimitMB > 0 && res.MemoryKB > memoryLimitMB*1024:
		return KindMemoryExceeded
	case res.OutputTooLarge:
		return KindOutputTooLarge
	case res.ExitCode != 0:
		return KindRuntimeCrash
	}
	return KindNone
}

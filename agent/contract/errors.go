package contract

import "errors"

var (
	ErrModelInvoke       = errors.New("model invoke failed")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrValidation        = errors.New("validation failed")
	ErrOracleUnavailable = errors.New("decision oracle unavailable")
	ErrThreadBusy        = errors.New("thread has a run in flight")
	ErrRecordNotFound    = errors.New("interaction record not found")

	ErrToolNotFound     = errors.New("tool not found")
	ErrToolSchema       = errors.New("tool arguments do not match schema")
	ErrToolExecution    = errors.New("tool execution failed")
	ErrInsufficientData = errors.New("insufficient data")
)

// ErrorKind is the machine-readable failure code carried by a ToolResult.
type ErrorKind string

const (
	KindToolSchema       ErrorKind = "tool_schema"
	KindToolNotFound     ErrorKind = "tool_not_found"
	KindToolExecution    ErrorKind = "tool_execution"
	KindInsufficientData ErrorKind = "insufficient_data"
	KindCancelled        ErrorKind = "cancelled"
)

// Err maps a kind back to its sentinel so callers can use errors.Is.
func (k ErrorKind) Err() error {
	switch k {
	case KindToolSchema:
		return ErrToolSchema
	case KindToolNotFound:
		return ErrToolNotFound
	case KindInsufficientData:
		return ErrInsufficientData
	case "":
		return nil
	default:
		return ErrToolExecution
	}
}

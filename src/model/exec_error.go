package model

import "fmt"

// ErrorType classifies a structured outcome of a cycle, signal or close attempt.
type ErrorType string

const (
	ErrConcurrentSkip      ErrorType = "CONCURRENT_SKIP"
	ErrNoSettings          ErrorType = "NO_SETTINGS"
	ErrBotStopped          ErrorType = "BOT_STOPPED"
	ErrDailyLimit          ErrorType = "DAILY_LIMIT"
	ErrMaxPositions        ErrorType = "MAX_POSITIONS"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrMinSizeViolation    ErrorType = "MIN_SIZE_VIOLATION"
	ErrGateway             ErrorType = "GATEWAY_ERROR"
	ErrAlreadyClosed       ErrorType = "ALREADY_CLOSED"
	ErrProfitNotMet        ErrorType = "PROFIT_NOT_MET"
	ErrReconcileMismatch   ErrorType = "RECONCILE_MISMATCH"
	ErrSignalRejected      ErrorType = "SIGNAL_REJECTED"
	ErrDuplicatePosition   ErrorType = "DUPLICATE_POSITION"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// ExecError is collected, not thrown, so one bad signal or venue never
// aborts the rest of a batch.
type ExecError struct {
	Symbol     string    `json:"symbol,omitempty"`
	Venue      string    `json:"venue,omitempty"`
	ErrorType  ErrorType `json:"errorType"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
}

func (e *ExecError) Error() string {
	if e.Venue == "" && e.Symbol == "" {
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	}
	return fmt.Sprintf("%s %s/%s: %s", e.ErrorType, e.Venue, e.Symbol, e.Message)
}

func NewExecError(errType ErrorType, venue, symbol, message, suggestion string) *ExecError {
	return &ExecError{
		Symbol:     symbol,
		Venue:      venue,
		ErrorType:  errType,
		Message:    message,
		Suggestion: suggestion,
	}
}

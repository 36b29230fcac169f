package api

import (
	"encoding/json"

	"github.com/MJE43/zkpoh/internal/ledger"
	"github.com/MJE43/zkpoh/internal/prover"
	"github.com/MJE43/zkpoh/internal/puzzle"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"
	ErrTypeMalformed     = "malformed_proof"

	// Lookup errors
	ErrTypeNotFound = "not_found"

	// Ledger errors
	ErrTypeLedger = "ledger_error"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryProof      ErrorCategory = "proof"
	CategoryLedger     ErrorCategory = "ledger"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidParams, ErrTypeValidation, ErrTypeNotFound:
		return CategoryValidation
	case ErrTypeMalformed:
		return CategoryProof
	case ErrTypeLedger:
		return CategoryLedger
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// PuzzleRequest asks for a puzzle. A nil Seed draws one from the clock.
type PuzzleRequest struct {
	Seed *int32 `json:"seed,omitempty"`
}

// PuzzleResponse carries a generated puzzle.
type PuzzleResponse struct {
	Puzzle puzzle.Puzzle `json:"puzzle"`
}

// EvaluateRequest checks a selection against the puzzle for Seed.
type EvaluateRequest struct {
	Seed     int32  `json:"seed"`
	Selected []int  `json:"selected"`
	Mode     string `json:"mode,omitempty"`
}

// EvaluateResponse is the evaluation plus the score the mode assigns it.
type EvaluateResponse struct {
	PuzzleID   string            `json:"puzzle_id"`
	Evaluation puzzle.Evaluation `json:"evaluation"`
	Score      *int              `json:"score,omitempty"`
	Label      string            `json:"label"`
}

// ValidateRequest is the body of the verification route.
type ValidateRequest struct {
	Proof         *prover.Proof `json:"proof"`
	PublicSignals []string      `json:"publicSignals"`
}

// ValidateResponse is the success body of the verification route.
type ValidateResponse struct {
	Verified      bool   `json:"verified"`
	AttestationID string `json:"attestationId,omitempty"`
}

// LedgerRequest selects a ledger action: status, createLedger or depositFund.
type LedgerRequest struct {
	Action string          `json:"action"`
	Amount json.RawMessage `json:"amount,omitempty"`
}

// LedgerStatusResponse answers the status action.
type LedgerStatusResponse struct {
	OK           bool         `json:"ok"`
	Address      string       `json:"address"`
	LedgerExists bool         `json:"ledgerExists"`
	LedgerInfo   *ledger.Info `json:"ledgerInfo"`
}

// LedgerCreateResponse answers the createLedger action.
type LedgerCreateResponse struct {
	OK      bool   `json:"ok"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

// LedgerDepositResponse answers the depositFund action.
type LedgerDepositResponse struct {
	OK        bool   `json:"ok"`
	Deposited string `json:"deposited"`
	Message   string `json:"message"`
}

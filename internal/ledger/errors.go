package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ReasonLedgerNotExists marks the "no ledger yet" condition in broker errors.
const ReasonLedgerNotExists = "LedgerNotExists"

// ErrInvalidAmount is returned for zero, negative or unparsable amounts.
var ErrInvalidAmount = errors.New("amount must be a positive number")

// Revert describes a contract revert surfaced by the broker.
type Revert struct {
	Name string `json:"name"`
}

// BrokerError is a non-2xx reply from the broker.
type BrokerError struct {
	StatusCode int     `json:"-"`
	Message    string  `json:"message"`
	Reason     string  `json:"reason,omitempty"`
	Revert     *Revert `json:"revert,omitempty"`
}

func (e *BrokerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	return fmt.Sprintf("ledger: HTTP %d: %s", e.StatusCode, msg)
}

// IsRetryable reports whether the request may succeed on retry.
func (e *BrokerError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsLedgerNotExists reports whether the broker says the ledger is missing.
func (e *BrokerError) IsLedgerNotExists() bool {
	if e.Revert != nil && e.Revert.Name == ReasonLedgerNotExists {
		return true
	}
	return strings.Contains(e.Message, ReasonLedgerNotExists) ||
		strings.Contains(e.Reason, ReasonLedgerNotExists)
}

// IsLedgerNotExists reports whether err carries the missing-ledger condition.
func IsLedgerNotExists(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.IsLedgerNotExists()
	}
	return err != nil && strings.Contains(err.Error(), ReasonLedgerNotExists)
}

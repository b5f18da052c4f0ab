package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperatorStatus represents the state of an operator account.
type OperatorStatus string

const (
	OperatorStatusActive    OperatorStatus = "active"
	OperatorStatusSuspended OperatorStatus = "suspended"
)

// Operator is a human account for the operational dashboard: queue stats,
// dead-letter inspection and manual requeue.
type Operator struct {
	ID           uuid.UUID      `json:"id"`
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"` // Never expose
	Status       OperatorStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsActive returns true if the operator account is active.
func (o *Operator) IsActive() bool {
	return o.Status == OperatorStatusActive
}

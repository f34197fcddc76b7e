package models

import (
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
)

// Operation is the kind of mutation a queued operation replays.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationInsert, OperationUpdate, OperationDelete:
		return Operation(s), nil
	}
	return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation %q", s))
}

// QueueStatus is the replay state of a queued operation.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusDead items are skipped by drains until retried manually.
	QueueStatusDead QueueStatus = "dead"
)

// QueuedOperation is a mutation pending remote application.
type QueuedOperation struct {
	ID        int64       `msgpack:"id" json:"id"`
	TableName TableKind   `msgpack:"table_name" json:"table_name"`
	Operation Operation   `msgpack:"operation" json:"operation"`
	RecordID  string      `msgpack:"record_id" json:"record_id"`
	Payload   Record      `msgpack:"payload" json:"payload"`
	CreatedAt time.Time   `msgpack:"created_at" json:"created_at"`
	Attempts  int         `msgpack:"attempts" json:"attempts"`
	LastError string      `msgpack:"last_error,omitempty" json:"last_error,omitempty"`
	Status    QueueStatus `msgpack:"status" json:"status"`
}

// Dead reports whether the operation was moved out of the replay set.
func (q *QueuedOperation) Dead() bool {
	return q.Status == QueueStatusDead
}

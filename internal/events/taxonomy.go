package events

import (
	"strings"

	"github.com/marcus/riff/internal/models"
)

// Operation is a write-queue operation.
type Operation string

// Canonical operations
const (
	OpSave   Operation = "save"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeKind describes how a record changed, as reported to observers.
type ChangeKind string

// Canonical change kinds
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// AllOperations returns all valid operations.
func AllOperations() map[Operation]bool {
	return map[Operation]bool{
		OpSave:   true,
		OpUpdate: true,
		OpDelete: true,
	}
}

// IsValidOperation checks if the given operation string is valid.
func IsValidOperation(op string) bool {
	return AllOperations()[Operation(op)]
}

// NormalizeRecordType maps user and wire spellings of a record type to its
// canonical form. Handles singular, plural, and collection names.
func NormalizeRecordType(recordType string) (models.RecordType, bool) {
	switch strings.ToLower(strings.TrimSpace(recordType)) {
	case "practice_session", "practice_sessions", "practiceentries", "session", "sessions":
		return models.TypePracticeSession, true
	case "goal", "goals":
		return models.TypeGoal, true
	case "repertoire", "song", "songs":
		return models.TypeRepertoire, true
	case "settings", "setting":
		return models.TypeSettings, true
	default:
		return "", false
	}
}

// NormalizeOperation maps CLI and legacy verbs onto the canonical operations.
// Unknown verbs are treated as updates.
func NormalizeOperation(op string) Operation {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "save", "create", "add", "insert":
		return OpSave
	case "delete", "remove", "rm", "soft_delete":
		return OpDelete
	default:
		return OpUpdate
	}
}

// ValidTypeOperationCombinations defines which operations each record type accepts.
// The settings blob is a singleton and is never deleted through the queue.
func ValidTypeOperationCombinations() map[models.RecordType]map[Operation]bool {
	return map[models.RecordType]map[Operation]bool{
		models.TypePracticeSession: {OpSave: true, OpUpdate: true, OpDelete: true},
		models.TypeGoal:            {OpSave: true, OpUpdate: true, OpDelete: true},
		models.TypeRepertoire:      {OpSave: true, OpUpdate: true, OpDelete: true},
		models.TypeSettings:        {OpSave: true, OpUpdate: true},
	}
}

// IsValidTypeOperationCombination checks if a record type accepts the operation.
func IsValidTypeOperationCombination(t models.RecordType, op Operation) bool {
	if ops, ok := ValidTypeOperationCombinations()[t]; ok {
		return ops[op]
	}
	return false
}

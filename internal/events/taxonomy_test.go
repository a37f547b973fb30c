package events

import (
	"testing"

	"github.com/marcus/riff/internal/models"
)

func TestNormalizeRecordType(t *testing.T) {
	tests := []struct {
		input    string
		expected models.RecordType
		valid    bool
	}{
		{"practice_session", models.TypePracticeSession, true},
		{"practice_sessions", models.TypePracticeSession, true},
		{"practiceEntries", models.TypePracticeSession, true},
		{"Sessions", models.TypePracticeSession, true},

		{"goal", models.TypeGoal, true},
		{"GOALS", models.TypeGoal, true},

		{"repertoire", models.TypeRepertoire, true},
		{"song", models.TypeRepertoire, true},

		{"settings", models.TypeSettings, true},

		{"issues", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeRecordType(tt.input)
		if ok != tt.valid {
			t.Errorf("NormalizeRecordType(%q) valid = %v, want %v", tt.input, ok, tt.valid)
		}
		if got != tt.expected {
			t.Errorf("NormalizeRecordType(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeOperation(t *testing.T) {
	tests := []struct {
		input    string
		expected Operation
	}{
		{"save", OpSave},
		{"create", OpSave},
		{"add", OpSave},
		{"update", OpUpdate},
		{"edit", OpUpdate},
		{"delete", OpDelete},
		{"rm", OpDelete},
		{"soft_delete", OpDelete},
	}

	for _, tt := range tests {
		if got := NormalizeOperation(tt.input); got != tt.expected {
			t.Errorf("NormalizeOperation(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTypeOperationCombinations(t *testing.T) {
	if !IsValidTypeOperationCombination(models.TypeGoal, OpDelete) {
		t.Error("goals should accept delete")
	}
	if IsValidTypeOperationCombination(models.TypeSettings, OpDelete) {
		t.Error("settings should not accept delete")
	}
	if IsValidTypeOperationCombination(models.RecordType("issues"), OpSave) {
		t.Error("unknown type should accept nothing")
	}
	for op := range AllOperations() {
		if !IsValidOperation(string(op)) {
			t.Errorf("%q should be valid", op)
		}
	}
}

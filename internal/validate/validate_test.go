package validate

import (
	"encoding/json"
	"testing"

	"github.com/marcus/riff/internal/models"
)

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()

	tests := []struct {
		name    string
		rec     models.Record
		wantErr bool
	}{
		{
			name: "valid session",
			rec:  models.Record{ID: "s1", Type: models.TypePracticeSession, Payload: json.RawMessage(`{"date":"2026-03-01","duration_minutes":30}`)},
		},
		{
			name:    "session missing duration",
			rec:     models.Record{ID: "s1", Type: models.TypePracticeSession, Payload: json.RawMessage(`{"date":"2026-03-01"}`)},
			wantErr: true,
		},
		{
			name:    "session bad date",
			rec:     models.Record{ID: "s1", Type: models.TypePracticeSession, Payload: json.RawMessage(`{"date":"yesterday","duration_minutes":30}`)},
			wantErr: true,
		},
		{
			name: "valid goal",
			rec:  models.Record{ID: "g1", Type: models.TypeGoal, Payload: json.RawMessage(`{"title":"Learn solo","completed":false}`)},
		},
		{
			name:    "goal empty title",
			rec:     models.Record{ID: "g1", Type: models.TypeGoal, Payload: json.RawMessage(`{"title":""}`)},
			wantErr: true,
		},
		{
			name:    "song bad status",
			rec:     models.Record{ID: "r1", Type: models.TypeRepertoire, Payload: json.RawMessage(`{"title":"Giant Steps","status":"forgotten"}`)},
			wantErr: true,
		},
		{
			name:    "settings wrong id",
			rec:     models.Record{ID: "prefs", Type: models.TypeSettings, Payload: json.RawMessage(`{"schemaVersion":1}`)},
			wantErr: true,
		},
		{
			name:    "unknown type",
			rec:     models.Record{ID: "x", Type: "issues", Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "not json",
			rec:     models.Record{ID: "g1", Type: models.TypeGoal, Payload: json.RawMessage(`{title:`)},
			wantErr: true,
		},
		{
			name: "tombstone needs no payload",
			rec:  models.Record{ID: "g1", Type: models.TypeGoal, Deleted: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.rec)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !IsValidationError(err) {
					t.Fatalf("expected *ValidationError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCompactsPayload(t *testing.T) {
	v := NewSchemaValidator()
	rec := models.Record{ID: "g1", Type: models.TypeGoal, Payload: json.RawMessage("{\n  \"title\": \"Scales\"\n}")}
	out, err := v.Validate(rec)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if string(out.Payload) != `{"title":"Scales"}` {
		t.Errorf("payload not compacted: %s", out.Payload)
	}
	if string(rec.Payload) == string(out.Payload) {
		t.Error("input record should not be mutated")
	}
}

func TestSessionSongListIsBounded(t *testing.T) {
	v := NewSchemaValidator()
	session := func(n int) models.Record {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = "song"
		}
		rec, _ := models.NewRecord(models.TypePracticeSession, "s1",
			models.PracticeSession{Date: "2026-03-01", DurationMinutes: 30, SongIDs: ids})
		return rec
	}

	if _, err := v.Validate(session(200)); err != nil {
		t.Errorf("200 songs: %v", err)
	}
	if _, err := v.Validate(session(201)); !IsValidationError(err) {
		t.Errorf("201 songs: got %v, want a validation error", err)
	}
}

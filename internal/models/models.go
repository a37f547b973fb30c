package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordType identifies one of the synced record collections
type RecordType string

const (
	TypePracticeSession RecordType = "practice_session"
	TypeGoal            RecordType = "goal"
	TypeRepertoire      RecordType = "repertoire"
	TypeSettings        RecordType = "settings"
)

// AllRecordTypes returns every synced record type in sync order.
func AllRecordTypes() []RecordType {
	return []RecordType{TypePracticeSession, TypeGoal, TypeRepertoire, TypeSettings}
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case TypePracticeSession, TypeGoal, TypeRepertoire, TypeSettings:
		return true
	}
	return false
}

// LocalCollection returns the local store collection name for the type.
func (t RecordType) LocalCollection() string {
	switch t {
	case TypePracticeSession:
		return "practiceEntries"
	case TypeGoal:
		return "goals"
	case TypeRepertoire:
		return "repertoire"
	case TypeSettings:
		return "settings"
	}
	return ""
}

// RemoteCollection returns the per-user remote sub-collection name for the type.
func (t RecordType) RemoteCollection() string {
	switch t {
	case TypePracticeSession:
		return "practice_sessions"
	case TypeGoal:
		return "goals"
	case TypeRepertoire:
		return "repertoire"
	case TypeSettings:
		return "settings"
	}
	return ""
}

// TypeForRemoteCollection maps a remote collection name back to its record type.
func TypeForRemoteCollection(collection string) (RecordType, bool) {
	for _, t := range AllRecordTypes() {
		if t.RemoteCollection() == collection {
			return t, true
		}
	}
	return "", false
}

// Record is one synced document. Payload is opaque, validated JSON specific to Type.
// A deleted record is kept as a tombstone so its deletion time can take part in merges.
type Record struct {
	ID        string          `json:"id"`
	Type      RecordType      `json:"type"`
	Payload   json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`

	// Pushed is set on records read from the local store when the remote
	// already holds this exact version. It never leaves the process.
	Pushed bool `json:"-"`
}

// Key returns the identity of the record across types.
func (r Record) Key() RecordKey {
	return RecordKey{Type: r.Type, ID: r.ID}
}

// Clone returns a copy that shares no payload bytes with r.
func (r Record) Clone() Record {
	c := r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return c
}

// Decode unmarshals the payload into v.
func (r Record) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("record %s/%s has no payload", r.Type, r.ID)
	}
	return json.Unmarshal(r.Payload, v)
}

// NewRecord builds a record of type t from a typed payload.
func NewRecord(t RecordType, id string, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Record{ID: id, Type: t, Payload: data}, nil
}

// RecordKey identifies a record across all collections
type RecordKey struct {
	Type RecordType
	ID   string
}

func (k RecordKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Live filters out tombstones.
func Live(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

// SongStatus represents how far along a repertoire song is
type SongStatus string

const (
	SongLearning   SongStatus = "learning"
	SongPracticing SongStatus = "practicing"
	SongPolishing  SongStatus = "polishing"
	SongMastered   SongStatus = "mastered"
)

// PracticeSession is the payload of a practice_session record
type PracticeSession struct {
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Instrument      string   `json:"instrument,omitempty"`
	Focus           string   `json:"focus,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	SongIDs         []string `json:"song_ids,omitempty"`
	Rating          int      `json:"rating,omitempty"` // 1-5, 0 = unrated
}

// Goal is the payload of a goal record
type Goal struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TargetDate  string `json:"target_date,omitempty"`
	Completed   bool   `json:"completed"`
	Progress    int    `json:"progress,omitempty"` // percent
}

// RepertoireSong is the payload of a repertoire record
type RepertoireSong struct {
	Title    string     `json:"title"`
	Artist   string     `json:"artist,omitempty"`
	Status   SongStatus `json:"status"`
	Key      string     `json:"key,omitempty"`
	TempoBPM int        `json:"tempo_bpm,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// SettingsSchemaVersion is the version written into every settings blob.
const SettingsSchemaVersion = 1

// SettingsID is the fixed record id of the per-user settings blob.
const SettingsID = "settings"

// Known settings keys
const (
	SettingTheme             = "theme"
	SettingMetronome         = "metronomeSettings"
	SettingAudio             = "audioSettings"
	SettingPracticeReminders = "practiceReminders"
	SettingCloudSyncEnabled  = "cloudSyncEnabled"
)

// MetronomeSettings holds metronome preferences.
type MetronomeSettings struct {
	BPM           int    `json:"bpm"`
	BeatsPerBar   int    `json:"beats_per_bar"`
	AccentFirst   bool   `json:"accent_first"`
	Sound         string `json:"sound,omitempty"`
	VolumePercent int    `json:"volume_percent,omitempty"`
}

// AudioSettings holds playback preferences.
type AudioSettings struct {
	PlaybackRate  float64 `json:"playback_rate"`
	PitchShift    int     `json:"pitch_shift"` // semitones
	LoopByDefault bool    `json:"loop_by_default"`
}

// ReminderSettings holds practice reminder preferences.
type ReminderSettings struct {
	Enabled bool     `json:"enabled"`
	Time    string   `json:"time,omitempty"` // HH:MM local
	Days    []string `json:"days,omitempty"`
}

// Settings is the versioned settings schema. Known keys are typed; keys this
// version does not understand are carried verbatim in Unknown so a round trip
// through an older client never drops them.
type Settings struct {
	SchemaVersion     int
	Theme             string
	Metronome         *MetronomeSettings
	Audio             *AudioSettings
	PracticeReminders *ReminderSettings
	CloudSyncEnabled  *bool
	Unknown           map[string]json.RawMessage
}

// DefaultSettings returns the settings used before any have been stored.
func DefaultSettings() Settings {
	enabled := true
	return Settings{
		SchemaVersion:    SettingsSchemaVersion,
		Theme:            "system",
		CloudSyncEnabled: &enabled,
	}
}

// SyncEnabled reports whether cloud sync is switched on (default true).
func (s Settings) SyncEnabled() bool {
	return s.CloudSyncEnabled == nil || *s.CloudSyncEnabled
}

// MarshalJSON writes the flat key space, unknown keys included.
func (s Settings) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Unknown)+6)
	for k, v := range s.Unknown {
		m[k] = v
	}
	version := s.SchemaVersion
	if version == 0 {
		version = SettingsSchemaVersion
	}
	m["schemaVersion"] = version
	if s.Theme != "" {
		m[SettingTheme] = s.Theme
	}
	if s.Metronome != nil {
		m[SettingMetronome] = s.Metronome
	}
	if s.Audio != nil {
		m[SettingAudio] = s.Audio
	}
	if s.PracticeReminders != nil {
		m[SettingPracticeReminders] = s.PracticeReminders
	}
	if s.CloudSyncEnabled != nil {
		m[SettingCloudSyncEnabled] = *s.CloudSyncEnabled
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the flat key space into typed fields.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	*s = Settings{}
	for k, v := range raw {
		if k == "schemaVersion" {
			if err := json.Unmarshal(v, &s.SchemaVersion); err != nil {
				return fmt.Errorf("decode settings schemaVersion: %w", err)
			}
			continue
		}
		if err := s.Set(k, v); err != nil {
			return err
		}
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SettingsSchemaVersion
	}
	return nil
}

// Set assigns one key from its JSON value, type-checking known keys.
func (s *Settings) Set(key string, value json.RawMessage) error {
	var err error
	switch key {
	case SettingTheme:
		err = json.Unmarshal(value, &s.Theme)
	case SettingMetronome:
		var v MetronomeSettings
		if err = json.Unmarshal(value, &v); err == nil {
			s.Metronome = &v
		}
	case SettingAudio:
		var v AudioSettings
		if err = json.Unmarshal(value, &v); err == nil {
			s.Audio = &v
		}
	case SettingPracticeReminders:
		var v ReminderSettings
		if err = json.Unmarshal(value, &v); err == nil {
			s.PracticeReminders = &v
		}
	case SettingCloudSyncEnabled:
		var v bool
		if err = json.Unmarshal(value, &v); err == nil {
			s.CloudSyncEnabled = &v
		}
	default:
		if !json.Valid(value) {
			return fmt.Errorf("setting %q: invalid json", key)
		}
		if s.Unknown == nil {
			s.Unknown = make(map[string]json.RawMessage)
		}
		s.Unknown[key] = append(json.RawMessage(nil), bytes.TrimSpace(value)...)
	}
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// Get returns the JSON value of one key.
func (s Settings) Get(key string) (json.RawMessage, bool) {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Keys returns every key present in the blob, sorted.
func (s Settings) Keys() []string {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingsFromRecord decodes a settings record; a missing or tombstoned record yields defaults.
func SettingsFromRecord(r *Record) (Settings, error) {
	if r == nil || r.Deleted || len(r.Payload) == 0 {
		return DefaultSettings(), nil
	}
	var s Settings
	if err := json.Unmarshal(r.Payload, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

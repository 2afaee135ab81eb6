// Package penalty maps violation types to severity and penalty points.
//
// The table is fixed at startup. Unknown types are never rejected; they
// resolve to a conservative default so a violation is always recorded.
package penalty

import (
	"fmt"
	"strings"
)

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity accepts any casing and surrounding whitespace.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	}
	return "", fmt.Errorf("penalty: unknown severity %q", s)
}

// Rank orders severities: low < medium < high.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Entry is one row of the table.
type Entry struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Points   int      `json:"points"`
	Known    bool     `json:"known"`
}

// Default applies to types missing from the table.
var Default = Entry{Severity: SeverityMedium, Points: 3}

// Normalize lowercases t and turns hyphens and spaces into underscores.
func Normalize(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.NewReplacer("-", "_", " ", "_").Replace(t)
	return t
}

// Table is an immutable lookup from normalized type to entry.
type Table struct {
	entries map[string]Entry
}

// NewTable builds a table; keys are normalized on insert.
func NewTable(entries map[string]Entry) *Table {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for k, e := range entries {
		k = Normalize(k)
		e.Type = k
		e.Known = true
		t.entries[k] = e
	}
	return t
}

// Lookup resolves the entry for a raw violation type.
func (t *Table) Lookup(violationType string) Entry {
	key := Normalize(violationType)
	if e, ok := t.entries[key]; ok {
		return e
	}
	e := Default
	e.Type = key
	return e
}

// Entries returns a copy of every known entry.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Standard is the production table.
func Standard() *Table {
	return NewTable(map[string]Entry{
		// client-observed browser events
		"tab_switch":         {Severity: SeverityMedium, Points: 5},
		"window_blur":        {Severity: SeverityLow, Points: 2},
		"copy_paste":         {Severity: SeverityMedium, Points: 4},
		"copy":               {Severity: SeverityMedium, Points: 4},
		"paste":              {Severity: SeverityMedium, Points: 4},
		"right_click":        {Severity: SeverityLow, Points: 1},
		"fullscreen_exit":    {Severity: SeverityMedium, Points: 5},
		"devtools_open":      {Severity: SeverityHigh, Points: 10},
		"screenshot_attempt": {Severity: SeverityHigh, Points: 8},

		// device readiness
		"camera_disabled":     {Severity: SeverityHigh, Points: 8},
		"microphone_disabled": {Severity: SeverityHigh, Points: 6},
		"audio_disabled":      {Severity: SeverityMedium, Points: 4},
		"heartbeat_timeout":   {Severity: SeverityMedium, Points: 6},

		// ML detections
		"no_face":                 {Severity: SeverityHigh, Points: 8},
		"multiple_faces":          {Severity: SeverityHigh, Points: 10},
		"looking_away":            {Severity: SeverityLow, Points: 3},
		"eyes_closed":             {Severity: SeverityLow, Points: 2},
		"face_covered":            {Severity: SeverityMedium, Points: 5},
		"speech_detected":         {Severity: SeverityMedium, Points: 4},
		"multiple_voices":         {Severity: SeverityHigh, Points: 8},
		"high_background_noise":   {Severity: SeverityLow, Points: 2},
		"suspicious_conversation": {Severity: SeverityHigh, Points: 10},
		"forbidden_object":        {Severity: SeverityHigh, Points: 10},
		"multiple_screens":        {Severity: SeverityHigh, Points: 10},

		"liveness_failed": {Severity: SeverityHigh, Points: 8},
	})
}

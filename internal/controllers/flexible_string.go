package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FlexibleString allows JSON fields to be provided as string or number
type FlexibleString string

func (fs *FlexibleString) UnmarshalJSON(data []byte) error {
	if fs == nil {
		return fmt.Errorf("FlexibleString: nil receiver")
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*fs = FlexibleString(strings.TrimSpace(s))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		*fs = FlexibleString(num.String())
		return nil
	}

	return fmt.Errorf("FlexibleString: expected string or number, got %s", string(data))
}

func (fs FlexibleString) String() string {
	return string(fs)
}

// firstOf returns the first non-empty value, for bodies that may spell a
// field in camelCase or snake_case.
func firstOf(vals ...FlexibleString) string {
	for _, v := range vals {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// FlexibleTime accepts RFC3339 strings or epoch milliseconds.
type FlexibleTime struct {
	time.Time
	Set bool
}

func (ft *FlexibleTime) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("FlexibleTime: %w", err)
		}
		ft.Time, ft.Set = t.UTC(), true
		return nil
	}

	var ms json.Number
	if err := json.Unmarshal(trimmed, &ms); err == nil {
		n, err := ms.Int64()
		if err != nil {
			return fmt.Errorf("FlexibleTime: expected integer milliseconds, got %s", ms)
		}
		ft.Time, ft.Set = time.UnixMilli(n).UTC(), true
		return nil
	}

	return fmt.Errorf("FlexibleTime: expected RFC3339 string or epoch millis, got %s", string(data))
}

// Ptr returns nil when the field was absent.
func (ft FlexibleTime) Ptr() *time.Time {
	if !ft.Set {
		return nil
	}
	t := ft.Time
	return &t
}

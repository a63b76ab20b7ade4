// Package envelope defines the canonical return object of every skill
// invocation: ok flag, data payload, warnings, errors, and timing metadata.
package envelope

import "time"

// Version is stamped into meta on every envelope.
const Version = "1.0.0"

// Note is a non-fatal annotation attached to an envelope.
type Note struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error describes a failure. Retryable tells the caller whether the same
// invocation may succeed later without operator action.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Meta carries timing and optional cost metadata.
type Meta struct {
	DurationMS     int64    `json:"duration_ms"`
	Version        string   `json:"version"`
	CostEstimate   *float64 `json:"cost_estimate,omitempty"`
	CostConfidence *string  `json:"cost_confidence,omitempty"`
}

// Envelope is the uniform response shape of every skill.
//
// Invariants: ok=true implies errors is empty and Data is non-nil;
// ok=false implies Data is nil and errors has at least one entry.
type Envelope struct {
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data"`
	Warnings []Note         `json:"warnings"`
	Errors   []Error        `json:"errors"`
	Meta     Meta           `json:"meta"`
}

// Ok builds a success envelope. Data must not be nil; an empty map is valid.
func Ok(data map[string]any, start time.Time, warnings ...Note) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	if warnings == nil {
		warnings = []Note{}
	}
	return Envelope{
		OK:       true,
		Data:     data,
		Warnings: warnings,
		Errors:   []Error{},
		Meta:     Meta{DurationMS: durationMS(start), Version: Version},
	}
}

// Fail builds a failure envelope with a single error.
func Fail(code, message string, start time.Time, retryable bool, warnings ...Note) Envelope {
	if warnings == nil {
		warnings = []Note{}
	}
	return Envelope{
		OK:       false,
		Data:     nil,
		Warnings: warnings,
		Errors:   []Error{{Code: code, Message: message, Retryable: retryable}},
		Meta:     Meta{DurationMS: durationMS(start), Version: Version},
	}
}

// FirstError returns the first error, or a zero Error when the envelope is ok.
func (e Envelope) FirstError() Error {
	if len(e.Errors) == 0 {
		return Error{}
	}
	return e.Errors[0]
}

// HasWarning reports whether a warning with the given code is attached.
func (e Envelope) HasWarning(code string) bool {
	for _, w := range e.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// WithCost attaches a cost estimate to the envelope's meta.
func (e Envelope) WithCost(estimate float64, confidence string) Envelope {
	e.Meta.CostEstimate = &estimate
	e.Meta.CostConfidence = &confidence
	return e
}

func durationMS(start time.Time) int64 {
	d := time.Since(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

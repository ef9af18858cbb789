// Package tags reads the handful of DICOM attributes the loader needs out of
// DICOM JSON attribute records. It is the only code that knows the wire
// layout of a record; everything else asks for a Field.
package tags

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Attribute is one entry of a DICOM JSON record.
type Attribute struct {
	VR    string            `json:"vr,omitempty"`
	Value []json.RawMessage `json:"Value,omitempty"`
}

// Record maps an 8 hex digit tag ("0020000E") to its attribute.
type Record map[string]Attribute

// Field names an attribute the loader reads from a Record.
type Field string

const (
	StudyUID       Field = "0020000D"
	SeriesUID      Field = "0020000E"
	SOPUID         Field = "00080018"
	InstanceNumber Field = "00200013"
)

// String returns the first value of field as text. The second result is false
// when the attribute is missing, has no values, or its first value is empty.
func String(rec Record, field Field) (string, bool) {
	raw, ok := first(rec, field)
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	// numbers are occasionally sent where a string is expected
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Number returns the first value of field as a float64. DICOM JSON encodes IS
// and DS values either as JSON numbers or numeric strings; both are accepted.
func Number(rec Record, field Field) (float64, bool) {
	raw, ok := first(rec, field)
	if !ok {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// OrderKey is the InstanceNumber of rec, or +Inf when it is absent so records
// without a number sort after every numbered one.
func OrderKey(rec Record) float64 {
	if n, ok := Number(rec, InstanceNumber); ok {
		return n
	}
	return math.Inf(1)
}

func first(rec Record, field Field) (json.RawMessage, bool) {
	attr, ok := rec[string(field)]
	if !ok || len(attr.Value) == 0 {
		return nil, false
	}
	raw := attr.Value[0]
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

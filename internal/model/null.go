package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

var jsonNull = []byte("null")

// NullFloat is a float64 that may be unknown. Unknown values serialize as JSON null,
// never as 0 or NaN.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Float returns a valid NullFloat holding v, or null when v is not finite.
func Float(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Float64: v, Valid: true}
}

func (n NullFloat) String() string {
	if !n.Valid {
		return "null"
	}
	return strconv.FormatFloat(n.Float64, 'g', -1, 64)
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.Float64)
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), jsonNull) {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Float(v)
	return nil
}

// NullBool is a boolean that may be unknown.
type NullBool struct {
	Bool  bool
	Valid bool
}

// Bool returns a valid NullBool.
func Bool(b bool) NullBool { return NullBool{Bool: b, Valid: true} }

// True reports whether the value is known and true.
func (n NullBool) True() bool { return n.Valid && n.Bool }

func (n NullBool) String() string {
	if !n.Valid {
		return "null"
	}
	return strconv.FormatBool(n.Bool)
}

func (n NullBool) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.Bool)
}

func (n *NullBool) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), jsonNull) {
		*n = NullBool{}
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = Bool(v)
	return nil
}

// Package feature reconstructs the engineered feature space the claim
// approval model was trained on: key canonicalization, ratio and amount
// derivations, and assembly of the fixed-width frame the pipeline consumes.
package feature

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the payload carried by a Value.
type Kind uint8

const (
	// KindMissing marks an absent or unusable cell.
	KindMissing Kind = iota

	// KindNumber marks a numeric cell.
	KindNumber

	// KindString marks a textual cell.
	KindString
)

// Value is a single cell of claim data: a number, a string, or the missing
// marker. JSON scalars map onto it losslessly; anything the model cannot
// consume (nested arrays, objects, nulls) collapses to missing rather than
// failing the request.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Missing returns the missing-value marker.
func Missing() Value {
	return Value{kind: KindMissing}
}

// Number returns a numeric Value. NaN is folded into the missing marker so
// that a NaN can never leak into comparisons or the assembled frame.
func Number(n float64) Value {
	if math.IsNaN(n) {
		return Missing()
	}
	return Value{kind: KindNumber, num: n}
}

// String returns a textual Value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// FromJSON converts a decoded JSON scalar into a Value. Booleans become 1/0,
// null and non-scalar values become missing.
func FromJSON(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Missing()
	case float64:
		return Number(v)
	case string:
		return String(v)
	case bool:
		if v {
			return Number(1)
		}
		return Number(0)
	default:
		return Missing()
	}
}

// Kind reports the kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// IsMissing reports whether the value is the missing marker.
func (v Value) IsMissing() bool {
	return v.kind == KindMissing
}

// Float returns the numeric payload without coercion. The second return is
// false unless the value is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsNumber coerces the value to a number: numbers pass through, strings are
// parsed (trimmed, strconv syntax), everything else is missing. Unparsable
// strings coerce to missing rather than erroring, matching the silent-gap
// policy for partial claim data.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || math.IsNaN(n) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Token renders the value as a categorical token: strings verbatim, numbers in
// shortest decimal form, missing as the empty string. Used for vocabulary
// lookups where an unknown token simply matches nothing.
func (v Value) Token() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	default:
		return ""
	}
}

// Equal reports whether two values carry the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	default:
		return true
	}
}

// Record is one claim keyed by canonical column name.
type Record map[string]Value

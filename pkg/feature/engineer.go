package feature

import (
	"math"
)

// epsilon keeps ratio denominators away from zero. Must match the constant
// used when the training features were built.
const epsilon = 1e-9

// KnownAmountColumns is the fixed set of monetary columns that amount
// features can be derived from. A column only produces features when the
// model metadata declares it (base feature or numeric column).
var KnownAmountColumns = []string{
	ColClaimedAmount,
	ColSystemClaimedAmount,
	ColPatientShare,
	ColBilledTax,
	ColAcceptedTax,
	ColGrossClaimedAmount,
}

// Suffixes of the derived amount columns.
const (
	suffixClip     = "_CLIP"
	suffixLog1p    = "_LOG1P"
	suffixNegFlag  = "_NEG_FLAG"
	suffixZeroFlag = "_ZERO_FLAG"
)

// Derived ratio column names.
const (
	ColPatientSharePct      = "PATIENT_SHARE_PCT"
	ColTaxAcceptRatio       = "TAX_ACCEPT_RATIO"
	ColSystemToClaimedRatio = "SYSTEM_TO_CLAIMED_RATIO"
)

// Engineer derives the training-time features from canonical claim records.
// It is immutable after construction and safe for concurrent use.
type Engineer struct {
	amountCols   []string
	clip         map[string]float64
	expectSrvDesc bool
}

// NewEngineer builds an Engineer from the model metadata. baseFeatures and
// numericCols decide which known amount columns are eligible for derivation;
// clipBounds carries the optional per-column upper bounds captured at
// training time (nil when no clip statistics were shipped).
func NewEngineer(baseFeatures, numericCols []string, clipBounds map[string]float64) *Engineer {
	declared := make(map[string]struct{}, len(baseFeatures)+len(numericCols))
	for _, c := range baseFeatures {
		declared[c] = struct{}{}
	}
	for _, c := range numericCols {
		declared[c] = struct{}{}
	}

	e := &Engineer{clip: clipBounds}
	for _, c := range KnownAmountColumns {
		if _, ok := declared[c]; ok {
			e.amountCols = append(e.amountCols, c)
		}
	}
	if _, ok := indexOf(baseFeatures, ColSrvDesc); ok {
		e.expectSrvDesc = true
	}
	return e
}

// Canonicalize normalizes the keys of a decoded JSON object and applies the
// SERVICE_DESC alias when the model expects SRV_DESC instead.
func (e *Engineer) Canonicalize(raw map[string]any) Record {
	rec := NormalizeRecord(raw)
	if e.expectSrvDesc {
		if v, ok := rec[ColServiceDesc]; ok {
			if _, exists := rec[ColSrvDesc]; !exists {
				rec[ColSrvDesc] = v
				delete(rec, ColServiceDesc)
			}
		}
	}
	return rec
}

// Derive returns a copy of the record extended with the engineered columns.
// Every rule is guarded by key presence in this record alone, so a row's
// features never depend on what other rows in the batch carry. Missing or
// non-numeric operands yield missing features, never errors.
func (e *Engineer) Derive(rec Record) Record {
	out := make(Record, len(rec)+4*len(e.amountCols)+3)
	for k, v := range rec {
		out[k] = v
	}

	if _, ok := rec[ColPatientShare]; ok {
		if _, ok := rec[ColClaimedAmount]; ok {
			out[ColPatientSharePct] = ratio(rec[ColPatientShare], rec[ColClaimedAmount], 0, 5)
		}
	}
	if _, ok := rec[ColAcceptedTax]; ok {
		if _, ok := rec[ColBilledTax]; ok {
			out[ColTaxAcceptRatio] = ratio(rec[ColAcceptedTax], rec[ColBilledTax], 0, 2)
		}
	}
	if _, ok := rec[ColSystemClaimedAmount]; ok {
		if _, ok := rec[ColClaimedAmount]; ok {
			out[ColSystemToClaimedRatio] = ratio(rec[ColSystemClaimedAmount], rec[ColClaimedAmount], 0, 5)
		}
	}

	for _, c := range e.amountCols {
		v, ok := rec[c]
		if !ok {
			continue
		}
		n, numeric := v.AsNumber()

		clipVal, logVal := Missing(), Missing()
		if numeric {
			if hi, bounded := e.clip[c]; bounded {
				clipVal = Number(math.Min(n, hi))
				logVal = Number(math.Log1p(clamp(n, 0, hi)))
			} else {
				clipVal = Number(n)
				logVal = Number(math.Log1p(math.Max(n, 0)))
			}
		}
		out[c+suffixClip] = clipVal
		out[c+suffixLog1p] = logVal
		out[c+suffixNegFlag] = flag(numeric && n < 0)
		out[c+suffixZeroFlag] = flag(numeric && n == 0)
	}

	return out
}

// AmountColumns returns the eligible amount columns in derivation order.
func (e *Engineer) AmountColumns() []string {
	cols := make([]string, len(e.amountCols))
	copy(cols, e.amountCols)
	return cols
}

// ratio computes num/(den+epsilon) clipped into [lo, hi]. Either operand
// failing numeric coercion yields the missing marker.
func ratio(num, den Value, lo, hi float64) Value {
	n, ok := num.AsNumber()
	if !ok {
		return Missing()
	}
	d, ok := den.AsNumber()
	if !ok {
		return Missing()
	}
	return Number(clamp(n/(d+epsilon), lo, hi))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func flag(b bool) Value {
	if b {
		return Number(1)
	}
	return Number(0)
}

func indexOf(cols []string, name string) (int, bool) {
	for i, c := range cols {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

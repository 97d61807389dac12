package feature

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical column names referenced by the engineering rules.
const (
	ColClaimedAmount       = "CLAIMED_AMOUNT"
	ColSystemClaimedAmount = "SYSTEM_CLAIMED_AMOUNT"
	ColPatientShare        = "PATIENT_SHARE"
	ColBilledTax           = "BILLED_TAX"
	ColAcceptedTax         = "ACCEPTED_TAX"
	ColGrossClaimedAmount  = "GROSS_CLAIMED_AMOUNT"

	// ColServiceDesc is the long-form alias some upstream exports use for
	// ColSrvDesc. The alias is renamed only when the model expects SRV_DESC
	// and the record does not already carry it.
	ColServiceDesc = "SERVICE_DESC"
	ColSrvDesc     = "SRV_DESC"
)

// NormalizeKey canonicalizes a raw JSON field name: NFKC normalization, then
// uppercase with internal whitespace runs collapsed to single underscores.
// Idempotent on already-canonical keys.
func NormalizeKey(key string) string {
	key = norm.NFKC.String(key)
	return strings.Join(strings.Fields(strings.ToUpper(key)), "_")
}

// NormalizeRecord canonicalizes every key of a decoded JSON object and
// converts its values. Raw keys are visited in sorted order so that two keys
// normalizing to the same canonical name resolve deterministically (the later
// one in sort order wins).
func NormalizeRecord(raw map[string]any) Record {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(Record, len(raw))
	for _, k := range keys {
		rec[NormalizeKey(k)] = FromJSON(raw[k])
	}
	return rec
}

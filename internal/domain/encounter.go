package domain

// FeedEntry references one encounter change event from the source feed.
type FeedEntry struct {
	ContentURL  string
	EncounterID string
}

// Observation is a single named measurement recorded during an encounter.
// Value is nil when the source reported no usable scalar; Raw keeps the
// original token for diagnostics.
type Observation struct {
	Concept string
	Value   *float64
	Raw     string
}

// EncounterDetail is the fetched detail document for one encounter.
type EncounterDetail struct {
	EncounterID  string
	PatientRef   string
	Observations []Observation
}

// FindObservation returns the first observation whose display name equals concept.
func (d EncounterDetail) FindObservation(concept string) (Observation, bool) {
	for _, obs := range d.Observations {
		if obs.Concept == concept {
			return obs, true
		}
	}
	return Observation{}, false
}

// ProductMissPolicy decides what happens when a fee concept has no matching product.
type ProductMissPolicy string

const (
	ProductMissSkip ProductMissPolicy = "skip"
	ProductMissFail ProductMissPolicy = "fail-hard"
)

// Valid reports whether p is a known policy.
func (p ProductMissPolicy) Valid() bool {
	return p == ProductMissSkip || p == ProductMissFail
}

// CustomerPolicy decides how a patient reference maps to a customer record.
type CustomerPolicy string

const (
	CustomerLookupOnly     CustomerPolicy = "lookup-only"
	CustomerLookupOrCreate CustomerPolicy = "lookup-or-create"
)

// GatePolicy decides which prior outcome records make an encounter skippable.
type GatePolicy string

const (
	GateSuccessOnly GatePolicy = "success-only"
	GateAnyOutcome  GatePolicy = "any-outcome"
)

// Valid reports whether p is a known policy.
func (p GatePolicy) Valid() bool {
	return p == GateSuccessOnly || p == GateAnyOutcome
}

// StatusFilter returns the outcome status a ledger lookup must match for p.
// An empty status means any outcome.
func (p GatePolicy) StatusFilter() OutcomeStatus {
	if p == GateAnyOutcome {
		return ""
	}
	return OutcomeSuccess
}

// FeeConceptMapping maps an observation concept to a destination product key.
// OnMissingProduct overrides the global product-miss policy when set.
type FeeConceptMapping struct {
	Concept          string
	ProductKey       string
	OnMissingProduct ProductMissPolicy
}

// ExtractedFee is one fee value found in an encounter for a configured concept.
type ExtractedFee struct {
	Concept          string
	Value            float64
	ProductKey       string
	OnMissingProduct ProductMissPolicy
}

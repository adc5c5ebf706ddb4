package domain

import "time"

// OutcomeStatus is the durable result of processing one encounter.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// SyncOutcomeRecord is the append-only fact that an encounter was processed.
// At most one record with OutcomeSuccess may exist per EncounterID.
type SyncOutcomeRecord struct {
	ID          string        `json:"id"`
	EncounterID string        `json:"encounter_id"`
	PatientRef  string        `json:"patient_ref,omitempty"`
	Fee         float64       `json:"fee"`
	Status      OutcomeStatus `json:"status"`
	OrderRef    string        `json:"order_ref,omitempty"`
	Message     string        `json:"message"`
	SyncedAt    time.Time     `json:"synced_at"`
}

// EncounterState enumerates the per-encounter state machine.
type EncounterState string

const (
	StatePending    EncounterState = "pending"
	StateExtracting EncounterState = "extracting"
	StateResolving  EncounterState = "resolving"
	StateSubmitting EncounterState = "submitting"

	StateSkipped     EncounterState = "skipped"
	StateNoFee       EncounterState = "no-fee"
	StateSucceeded   EncounterState = "recorded-success"
	StateFailed      EncounterState = "recorded-failed"
	StateWouldSubmit EncounterState = "would-submit"
	StateUnrecorded  EncounterState = "unrecorded"
)

// EncounterResult is the terminal state of one encounter within a run.
type EncounterResult struct {
	EncounterID string         `json:"encounter_id"`
	PatientRef  string         `json:"patient_ref,omitempty"`
	State       EncounterState `json:"state"`
	OrderRef    string         `json:"order_ref,omitempty"`
	Fee         float64        `json:"fee,omitempty"`
	Message     string         `json:"message,omitempty"`
	Recorded    bool           `json:"recorded"`
}

// RunReport summarises one engine invocation.
type RunReport struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Entries    int               `json:"entries"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
	NoFee      int               `json:"no_fee"`
	Results    []EncounterResult `json:"results"`
}

// Tally recomputes the counters from Results.
func (r *RunReport) Tally() {
	r.Entries = len(r.Results)
	r.Succeeded, r.Failed, r.Skipped, r.NoFee = 0, 0, 0, 0
	for _, res := range r.Results {
		switch res.State {
		case StateSucceeded, StateWouldSubmit:
			r.Succeeded++
		case StateFailed, StateUnrecorded:
			r.Failed++
		case StateSkipped:
			r.Skipped++
		case StateNoFee:
			r.NoFee++
		}
	}
}

// Failures returns the results that ended in a failure state.
func (r RunReport) Failures() []EncounterResult {
	var out []EncounterResult
	for _, res := range r.Results {
		if res.State == StateFailed || res.State == StateUnrecorded {
			out = append(out, res)
		}
	}
	return out
}

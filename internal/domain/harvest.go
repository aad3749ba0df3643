package domain

import "time"

// Action tells the import stage what to do with a work item.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// WorkItemState tracks a work item through the staged pipeline.
type WorkItemState string

const (
	StateQueued  WorkItemState = "queued"
	StateFetched WorkItemState = "fetched"
	StateDone    WorkItemState = "done"
	StateFailed  WorkItemState = "failed"
)

// WorkItem is one unit of harvest work persisted between stages.
type WorkItem struct {
	ID       string            `json:"id"`
	JobID    string            `json:"job_id"`
	SourceID string            `json:"source_id"`
	GUID     string            `json:"guid"`
	Action   Action            `json:"action"`
	Dataset  *CanonicalDataset `json:"dataset,omitempty"`
	State    WorkItemState     `json:"state"`
	Error    string            `json:"error,omitempty"`
	// Outcome is set once the import stage has settled the item.
	Outcome *Outcome `json:"outcome,omitempty"`
}

// HarvestJob identifies one run of one harvest source.
type HarvestJob struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name"`
	StartedAt   time.Time `json:"started_at"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
}

// OutcomeStatus is the per-item result of the import stage.
type OutcomeStatus string

const (
	OutcomeCreated   OutcomeStatus = "created"
	OutcomeUpdated   OutcomeStatus = "updated"
	OutcomeUnchanged OutcomeStatus = "unchanged"
	OutcomeDeleted   OutcomeStatus = "deleted"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome records what happened to one work item.
type Outcome struct {
	GUID    string        `json:"guid"`
	Action  Action        `json:"action"`
	Status  OutcomeStatus `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Changes []string      `json:"changes,omitempty"`
}

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// OutcomeCounts tallies outcomes per status.
type OutcomeCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Add increments the counter matching status.
func (c *OutcomeCounts) Add(status OutcomeStatus) {
	switch status {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeUnchanged:
		c.Unchanged++
	case OutcomeDeleted:
		c.Deleted++
	case OutcomeFailed:
		c.Failed++
	}
}

// RunReport summarises one harvest run of one source.
type RunReport struct {
	JobID       string        `json:"job_id"`
	SourceID    string        `json:"source_id"`
	SourceName  string        `json:"source_name"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Status      RunStatus     `json:"status"`
	Error       string        `json:"error,omitempty"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
	Outcomes    []Outcome     `json:"outcomes"`
	Counts      OutcomeCounts `json:"counts"`
}

// Record appends an outcome and updates the counters.
func (r *RunReport) Record(outcome Outcome) {
	r.Outcomes = append(r.Outcomes, outcome)
	r.Counts.Add(outcome.Status)
}

// Fail marks the run as failed with a single reason.
func (r *RunReport) Fail(reason string) {
	r.Status = RunFailed
	r.Error = reason
}

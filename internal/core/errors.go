package core

import "fmt"

// ConfigError reports malformed or ambiguous desired state. Always
// fatal; the run aborts before any mutation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// CollaboratorError wraps a failed external call (DNS API, certbot,
// docker compose, wp-cli). Whether it is fatal depends on the step: a
// configuration write with a missing secret aborts the run, a single
// DNS record failure does not.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Severity classifies a step outcome. The two-tier split lets
// operators tell at a glance whether a run fully succeeded or degraded.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded"
	StepAborted  StepStatus = "aborted"
	StepSkipped  StepStatus = "skipped"
)

// StepResult is the outcome of one driver step or one resource
// instance within a reconciler pass.
type StepResult struct {
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Severity Severity   `json:"severity,omitempty"`
	Detail   string     `json:"detail,omitempty"`
	Err      error      `json:"-"`
}

func (s StepResult) Failed() bool {
	return s.Status == StepAborted
}

// Package buildevent turns GoCD bot status lines posted into Slack into
// structured build events.
package buildevent

// Result is the outcome reported by a status line.
type Result string

// Results.
const (
	Passed Result = "passed"
	Failed Result = "failed"
)

// Failed reports whether r is a failure.
func (r Result) Failed() bool {
	return r == Failed
}

// Monitor is a tracked pipeline family. A stage belongs to the first monitor
// whose FilterPrefix prefixes its name.
type Monitor struct {
	Name         string
	FilterPrefix string
	PostChannel  string
}

// Event is one parsed status line.
type Event struct {
	MonitorName   string
	Channel       string
	PipelineStage string
	BuildCounter  uint64
	StepName      string
	Attempt       uint64
	Result        Result
}

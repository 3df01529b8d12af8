package deepsearch

import "time"

// StepKind identifies a step variant in the run log.
type StepKind string

const (
	StepSystemPrompt StepKind = "system_prompt"
	StepTask         StepKind = "task"
	StepPlanning     StepKind = "planning"
	StepAction       StepKind = "action"
	StepFinalAnswer  StepKind = "final_answer"
)

// StepMeta carries the timing and token accounting shared by every
// step variant. Embedded by the concrete step types.
type StepMeta struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Usage *Usage    `json:"usage,omitempty"`
}

// Meta exposes the embedded metadata through the Step interface.
func (m *StepMeta) Meta() *StepMeta { return m }

// Duration is the wall time the step took; zero until the step ends.
func (m *StepMeta) Duration() time.Duration {
	if m.End.IsZero() || m.Start.IsZero() {
		return 0
	}
	return m.End.Sub(m.Start)
}

// Step is one entry in a run's append-only log.
type Step interface {
	Kind() StepKind
	Meta() *StepMeta
}

// SystemPromptStep is the first step of every run.
type SystemPromptStep struct {
	StepMeta
	Text string `json:"text"`
}

func (*SystemPromptStep) Kind() StepKind { return StepSystemPrompt }

// TaskStep materialises the user query at loop start.
type TaskStep struct {
	StepMeta
	Text   string      `json:"text"`
	Images []ImageData `json:"images,omitempty"`
}

func (*TaskStep) Kind() StepKind { return StepTask }

// PlanningStep records an initial or updated plan.
type PlanningStep struct {
	StepMeta
	Plan     string `json:"plan"`
	IsUpdate bool   `json:"is_update"`
}

func (*PlanningStep) Kind() StepKind { return StepPlanning }

// ActionStep records one thinking/acting/observing tick: the raw model
// output, the tool calls it carried and their aligned observations, or
// an error when the tick failed before acting.
type ActionStep struct {
	StepMeta
	ModelOutput  string        `json:"model_output"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (*ActionStep) Kind() StepKind { return StepAction }

// FinalAnswerStep terminates the log.
type FinalAnswerStep struct {
	StepMeta
	Payload FinalAnswer `json:"payload"`
}

func (*FinalAnswerStep) Kind() StepKind { return StepFinalAnswer }

var (
	_ Step = (*SystemPromptStep)(nil)
	_ Step = (*TaskStep)(nil)
	_ Step = (*PlanningStep)(nil)
	_ Step = (*ActionStep)(nil)
	_ Step = (*FinalAnswerStep)(nil)
)

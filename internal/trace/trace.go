// Package trace defines the persisted data model for pipeline execution
// traces and the backend-agnostic store that every other component writes
// through. A Trace is one logical run; Events form a forest beneath it;
// PromptVersions are immutable, content-addressed prompt revisions that
// LLM events may reference.
package trace

import "time"

// Event types written by the logger. Callers may use other values; these
// are the ones the pipeline itself emits.
const (
	EventTypeLLM         = "llm"
	EventTypeStep        = "step"
	EventTypePreprocess  = "preprocess"
	EventTypePostprocess = "postprocess"
	EventTypeTool        = "tool"
	EventTypeSystem      = "system"
)

// Trace is the root of one execution session. Rows are created once and
// never mutated by this subsystem.
type Trace struct {
	ID        string
	CreatedAt time.Time
	Name      string
	UserID    string
	TenantID  string
	Tags      string
	Metadata  string

	TokensInputTotal  *int64
	TokensOutputTotal *int64
	TokensTotal       *int64
	CostTotal         *float64
}

// Event is one recorded unit of work within a trace: a model invocation
// or a pipeline step. ParentID, when set, must reference an event in the
// same trace. Token, cost, duration and quality fields are pointers so a
// missing value round-trips as NULL rather than a fabricated zero.
type Event struct {
	ID        string
	TraceID   string
	ParentID  string
	PromptID  string
	CreatedAt time.Time
	Type      string
	Name      string
	Model     string
	Role      string

	InputText  string
	InputJSON  string
	OutputText string
	OutputJSON string
	Error      string

	DurationMS   *int64
	TokensInput  *int64
	TokensOutput *int64
	TokensTotal  *int64
	CostInput    *float64
	CostOutput   *float64
	CostTotal    *float64

	QualityScore    *float64
	QualityLabel    string
	QualityMetadata string

	Metadata string
}

// PromptVersion is one immutable revision of a named prompt template.
// TemplateHash is the content address of the normalized template text.
type PromptVersion struct {
	ID           string
	PromptKey    string
	Version      string
	Template     string
	TemplateHash string
	Description  string
	CreatedAt    time.Time
	Metadata     string
}

// PricingEntry is the persisted per-model price override, in USD per
// 1,000 tokens.
type PricingEntry struct {
	Model            string
	InputPricePer1K  float64
	OutputPricePer1K float64
	UpdatedAt        time.Time
}

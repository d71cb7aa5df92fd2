package tracelog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/draftforge/tracebook/internal/pricing"
	"github.com/draftforge/tracebook/internal/trace"
)

// LLMEvent describes one model invocation. Absent fields stay absent in
// storage: a failed call with no usage report produces an event with null
// tokens and null cost, not zeros.
type LLMEvent struct {
	TraceID    string
	Name       string
	Model      string
	Role       string
	InputText  string
	Input      any
	OutputText string
	Output     any
	Error      string
	DurationMS int64

	TokensInput  *int64
	TokensOutput *int64
	TokensTotal  *int64

	ParentID string
	PromptID string
	Metadata map[string]any
}

// StepEvent describes one non-model unit of pipeline work.
type StepEvent struct {
	TraceID    string
	Name       string
	Type       string // defaults to "step"
	Status     string // "success" (default) or "error"
	Error      string
	InputText  string
	Input      any
	OutputText string
	Output     any
	DurationMS int64
	ParentID   string
	Metadata   map[string]any
}

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// errorPlaceholder keeps failed steps self-explanatory when the call
	// site forgot to say what went wrong.
	errorPlaceholder = "step reported failure without error detail"
)

// LogLLMEvent prices and persists a model invocation, returning the event
// id. Cost comes from the pricing table only; it is nil whenever either
// token count is unknown. Disabled loggers return a fresh id and write
// nothing.
func (l *Logger) LogLLMEvent(ctx context.Context, ev LLMEvent) (string, error) {
	id := uuid.NewString()
	if !l.Enabled() {
		return id, nil
	}
	if ev.TraceID == "" {
		return "", fmt.Errorf("llm event %q requires a trace id", ev.Name)
	}

	tokensTotal := ev.TokensTotal
	if tokensTotal == nil && ev.TokensInput != nil && ev.TokensOutput != nil {
		sum := *ev.TokensInput + *ev.TokensOutput
		tokensTotal = &sum
	}

	var cost pricing.Cost
	if l.calc != nil {
		var err error
		cost, err = l.calc.Calculate(ctx, ev.Model, ev.TokensInput, ev.TokensOutput)
		if err != nil {
			// Pricing lookup failure must not lose the event itself.
			l.log.WarnContext(ctx, "cost calculation failed, recording event unpriced",
				"model", ev.Model, "trace_id", ev.TraceID, "error", err)
			cost = pricing.Cost{}
		}
	}

	inputJSON, err := encodeObject(ev.Input)
	if err != nil {
		return "", fmt.Errorf("encode llm event input: %w", err)
	}
	outputJSON, err := encodeObject(ev.Output)
	if err != nil {
		return "", fmt.Errorf("encode llm event output: %w", err)
	}
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode llm event metadata: %w", err)
	}

	row := &trace.Event{
		ID:           id,
		TraceID:      ev.TraceID,
		ParentID:     ev.ParentID,
		PromptID:     ev.PromptID,
		CreatedAt:    time.Now().UTC(),
		Type:         trace.EventTypeLLM,
		Name:         ev.Name,
		Model:        ev.Model,
		Role:         ev.Role,
		InputText:    ev.InputText,
		InputJSON:    inputJSON,
		OutputText:   ev.OutputText,
		OutputJSON:   outputJSON,
		Error:        ev.Error,
		DurationMS:   positiveDuration(ev.DurationMS),
		TokensInput:  ev.TokensInput,
		TokensOutput: ev.TokensOutput,
		TokensTotal:  tokensTotal,
		CostInput:    cost.Input,
		CostOutput:   cost.Output,
		CostTotal:    cost.Total,
		Metadata:     metadata,
	}
	if err := l.store.InsertEvent(ctx, row); err != nil {
		l.recordFailure(ctx, "insert_event", err)
		return "", fmt.Errorf("log llm event %q: %w", ev.Name, err)
	}
	l.recordWrite(ctx, trace.EventTypeLLM)
	l.log.DebugContext(ctx, "llm event recorded",
		"event_id", id, "trace_id", ev.TraceID, "name", ev.Name, "model", ev.Model)
	return id, nil
}

// LogStepEvent persists a pipeline step. Failed steps always carry error
// text, and steps whose payload is purely structured get a deterministic
// text summary so they remain reachable through text search.
func (l *Logger) LogStepEvent(ctx context.Context, ev StepEvent) (string, error) {
	id := uuid.NewString()
	if !l.Enabled() {
		return id, nil
	}
	if ev.TraceID == "" {
		return "", fmt.Errorf("step event %q requires a trace id", ev.Name)
	}

	eventType := ev.Type
	if eventType == "" {
		eventType = trace.EventTypeStep
	}
	status := ev.Status
	if status == "" {
		status = StatusSuccess
	}
	errText := ev.Error
	if status == StatusError && errText == "" {
		errText = errorPlaceholder
	}

	inputText := ev.InputText
	if inputText == "" {
		inputText = summarizeObject(ev.Input)
	}
	outputText := ev.OutputText
	if outputText == "" {
		outputText = summarizeObject(ev.Output)
	}

	inputJSON, err := encodeObject(ev.Input)
	if err != nil {
		return "", fmt.Errorf("encode step event input: %w", err)
	}
	outputJSON, err := encodeObject(ev.Output)
	if err != nil {
		return "", fmt.Errorf("encode step event output: %w", err)
	}
	metadata, err := encodeMetadata(mergeMetadata(map[string]any{"status": status}, ev.Metadata))
	if err != nil {
		return "", fmt.Errorf("encode step event metadata: %w", err)
	}

	row := &trace.Event{
		ID:         id,
		TraceID:    ev.TraceID,
		ParentID:   ev.ParentID,
		CreatedAt:  time.Now().UTC(),
		Type:       eventType,
		Name:       ev.Name,
		InputText:  inputText,
		InputJSON:  inputJSON,
		OutputText: outputText,
		OutputJSON: outputJSON,
		Error:      errText,
		DurationMS: positiveDuration(ev.DurationMS),
		Metadata:   metadata,
	}
	if err := l.store.InsertEvent(ctx, row); err != nil {
		l.recordFailure(ctx, "insert_event", err)
		return "", fmt.Errorf("log step event %q: %w", ev.Name, err)
	}
	l.recordWrite(ctx, eventType)
	l.log.DebugContext(ctx, "step event recorded",
		"event_id", id, "trace_id", ev.TraceID, "name", ev.Name, "type", eventType, "status", status)
	return id, nil
}

// CallRecord is the single-shot convenience shape for call sites that
// have a prompt and a response in hand. Phase and Name are required and
// identify the call site explicitly.
type CallRecord struct {
	Phase      string
	Name       string
	TraceID    string
	Prompt     string
	Response   string
	Model      string
	DurationMS int64

	TokensInput  *int64
	TokensOutput *int64

	Error    string
	ParentID string
	PromptID string
	Metadata map[string]any
}

// LogCall records a CallRecord as an llm event named "<phase>.<name>".
func (l *Logger) LogCall(ctx context.Context, rec CallRecord) (string, error) {
	if strings.TrimSpace(rec.Phase) == "" || strings.TrimSpace(rec.Name) == "" {
		return "", fmt.Errorf("call record requires phase and name")
	}
	return l.LogLLMEvent(ctx, LLMEvent{
		TraceID:      rec.TraceID,
		Name:         rec.Phase + "." + rec.Name,
		Model:        rec.Model,
		Role:         "assistant",
		InputText:    rec.Prompt,
		OutputText:   rec.Response,
		Error:        rec.Error,
		DurationMS:   rec.DurationMS,
		TokensInput:  rec.TokensInput,
		TokensOutput: rec.TokensOutput,
		ParentID:     rec.ParentID,
		PromptID:     rec.PromptID,
		Metadata:     rec.Metadata,
	})
}

// FromChatCompletion maps a chat completion response onto an LLMEvent so
// the transport client logs uniformly. Zero usage is treated as unknown,
// not as zero tokens.
func FromChatCompletion(resp openai.ChatCompletionResponse, name, inputText string, durationMS int64) LLMEvent {
	ev := LLMEvent{
		Name:       name,
		Model:      resp.Model,
		Role:       "assistant",
		InputText:  inputText,
		DurationMS: durationMS,
	}
	if len(resp.Choices) > 0 {
		ev.OutputText = resp.Choices[0].Message.Content
	}
	if resp.Usage.TotalTokens > 0 {
		in := int64(resp.Usage.PromptTokens)
		out := int64(resp.Usage.CompletionTokens)
		total := int64(resp.Usage.TotalTokens)
		ev.TokensInput = &in
		ev.TokensOutput = &out
		ev.TokensTotal = &total
	}
	return ev
}

func positiveDuration(ms int64) *int64 {
	if ms <= 0 {
		return nil
	}
	return &ms
}

// summaryKeys are checked in order when deriving a text summary from a
// structured payload.
var summaryKeys = []string{"title", "name", "topic", "summary", "text", "content", "id", "status", "count"}

// summarizeObject derives a short, deterministic text rendering of a
// structured payload. Same payload, same summary.
func summarizeObject(obj any) string {
	fields, ok := obj.(map[string]any)
	if !ok || len(fields) == 0 {
		return ""
	}

	parts := make([]string, 0, 3)
	for _, key := range summaryKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		rendered := renderScalar(value)
		if rendered == "" {
			continue
		}
		parts = append(parts, key+"="+rendered)
		if len(parts) == 3 {
			break
		}
	}
	if len(parts) > 0 {
		return truncate(strings.Join(parts, " "), 200)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return truncate("object with keys: "+strings.Join(keys, ", "), 200)
}

func renderScalar(value any) string {
	switch v := value.(type) {
	case string:
		return truncate(strings.TrimSpace(v), 80)
	case bool:
		return fmt.Sprintf("%t", v)
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

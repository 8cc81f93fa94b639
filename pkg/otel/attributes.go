package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for nadia services.
const (
	AttrUserID              = "user.id"
	AttrThreadID            = "thread.id"
	AttrMessageID           = "message.id"
	AttrRequestID           = "request.id"
	AttrLLMModel            = "llm.model"
	AttrLLMProvider         = "llm.provider"
	AttrLLMPromptTokens     = "llm.usage.prompt_tokens"
	AttrLLMCompletionTokens = "llm.usage.completion_tokens"
	AttrMemoryID            = "memory.id"
	AttrMemoryTier          = "memory.tier"
	AttrRecallTrigger       = "recall.trigger"
	AttrRecallStrategy      = "recall.strategy"
	AttrJobID               = "job.id"
	AttrJobType             = "job.type"
)

func UserID(id string) attribute.KeyValue        { return attribute.String(AttrUserID, id) }
func ThreadID(id string) attribute.KeyValue      { return attribute.String(AttrThreadID, id) }
func MessageID(id string) attribute.KeyValue     { return attribute.String(AttrMessageID, id) }
func RequestID(id string) attribute.KeyValue     { return attribute.String(AttrRequestID, id) }
func LLMModel(model string) attribute.KeyValue   { return attribute.String(AttrLLMModel, model) }
func LLMProvider(name string) attribute.KeyValue { return attribute.String(AttrLLMProvider, name) }
func LLMPromptTokens(n int) attribute.KeyValue   { return attribute.Int(AttrLLMPromptTokens, n) }
func LLMCompletionTokens(n int) attribute.KeyValue {
	return attribute.Int(AttrLLMCompletionTokens, n)
}
func MemoryID(id string) attribute.KeyValue      { return attribute.String(AttrMemoryID, id) }
func MemoryTier(tier string) attribute.KeyValue  { return attribute.String(AttrMemoryTier, tier) }
func RecallTrigger(t string) attribute.KeyValue  { return attribute.String(AttrRecallTrigger, t) }
func RecallStrategy(s string) attribute.KeyValue { return attribute.String(AttrRecallStrategy, s) }
func JobID(id string) attribute.KeyValue         { return attribute.String(AttrJobID, id) }
func JobType(t string) attribute.KeyValue        { return attribute.String(AttrJobType, t) }

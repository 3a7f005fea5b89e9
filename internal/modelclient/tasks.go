package modelclient

import (
	"context"
	"encoding/json"
	"strings"

	"eve.evalgo.org/memoryengine/pkg/schema"
)

// systemPrompt is shared across tasks; callers prepend task-specific context
// as the first user message.
const systemPrompt = "You are the memory-engine's extraction assistant. Always respond by calling the provided tool with complete, specific values. Never hedge."

func userMessage(content string) chatMessage { return chatMessage{Role: "user", Content: content} }
func systemMessage() chatMessage              { return chatMessage{Role: "system", Content: systemPrompt} }

// anyStringHedged walks a decoded JSON value looking for a hedging phrase in
// any string leaf, per spec.md §4.2's escalation rule.
func anyStringHedged(v any) bool {
	switch t := v.(type) {
	case string:
		return HasHedge(t)
	case []any:
		for _, e := range t {
			if anyStringHedged(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if anyStringHedged(e) {
				return true
			}
		}
	}
	return false
}

func isLowQualityGeneric(requiredArrayField string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		if raw == nil {
			return true
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return true
		}
		if anyStringHedged(generic) {
			return true
		}
		if requiredArrayField != "" {
			arr, ok := generic[requiredArrayField].([]any)
			if !ok || len(arr) == 0 {
				return true
			}
		}
		return false
	}
}

// SessionSummary calls the session_summary task (S-summary).
func (c *Client) SessionSummary(ctx context.Context, sessionText string) (*schema.Summary, error) {
	tool := toolSchema{name: "session_summary", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"compressed_summary":    map[string]any{"type": "string"},
			"key_topics":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"significance_confirmed": map[string]any{"type": "string"},
			"projects_mentioned":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"compressed_summary", "key_topics", "significance_confirmed", "projects_mentioned"},
	}}
	raw, err := c.Call(ctx, TaskSessionSummary, []chatMessage{systemMessage(), userMessage(sessionText)}, tool, isLowQualityGeneric("key_topics"))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Summary
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// Triage calls the triage task (S-triage) with the current master context as
// additional grounding.
func (c *Client) Triage(ctx context.Context, sessionText, masterContext string) (*schema.Triage, error) {
	tool := toolSchema{name: "triage", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{"type": "array"},
			"master_context_updates": map[string]any{"type": "array"},
		},
		"required": []string{"items", "master_context_updates"},
	}}
	prompt := "Current master context:\n" + masterContext + "\n\nSession:\n" + sessionText
	raw, err := c.Call(ctx, TaskTriage, []chatMessage{systemMessage(), userMessage(prompt)}, tool, isLowQualityGeneric("items"))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Triage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// CompressMaster calls the master_compression task (S-master).
func (c *Client) CompressMaster(ctx context.Context, masterContext, sessionDigest string) (*schema.MasterCompression, error) {
	tool := toolSchema{name: "compressed_master_context", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"master_context_markdown": map[string]any{"type": "string"},
			"changes_made":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"master_context_markdown", "changes_made"},
	}}
	prompt := "Current master context:\n" + masterContext + "\n\nNew information to incorporate:\n" + sessionDigest
	raw, err := c.Call(ctx, TaskMasterCompression, []chatMessage{systemMessage(), userMessage(prompt)}, tool, isLowQualityGeneric(""))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.MasterCompression
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// ExtractEntities calls the entity_extraction task (S-entities).
func (c *Client) ExtractEntities(ctx context.Context, sessionText string) (*schema.Entities, error) {
	tool := toolSchema{name: "entity_extraction", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entities": map[string]any{"type": "array"},
		},
		"required": []string{"entities"},
	}}
	raw, err := c.Call(ctx, TaskEntityExtraction, []chatMessage{systemMessage(), userMessage(sessionText)}, tool, isLowQualityGeneric("entities"))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Entities
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// AnalyzePatterns calls the pattern_analysis task (S-patterns).
func (c *Client) AnalyzePatterns(ctx context.Context, recentSessions []string) (*schema.Patterns, error) {
	tool := toolSchema{name: "pattern_analysis", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"patterns": map[string]any{"type": "array"},
		},
		"required": []string{"patterns"},
	}}
	prompt := "Recent sessions:\n" + strings.Join(recentSessions, "\n---\n")
	raw, err := c.Call(ctx, TaskPatternAnalysis, []chatMessage{systemMessage(), userMessage(prompt)}, tool, isLowQualityGeneric(""))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Patterns
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// GenerateNudges calls the nudge_generation task (S-nudges).
func (c *Client) GenerateNudges(ctx context.Context, masterContext string, recentSessions, recentPatterns, recentFailures []string) (*schema.Nudges, error) {
	tool := toolSchema{name: "nudge_generation", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nudges": map[string]any{"type": "array"},
		},
		"required": []string{"nudges"},
	}}
	prompt := "Master context:\n" + masterContext +
		"\n\nRecent sessions:\n" + strings.Join(recentSessions, "\n") +
		"\n\nRecent patterns:\n" + strings.Join(recentPatterns, "\n") +
		"\n\nRecent failures:\n" + strings.Join(recentFailures, "\n")
	raw, err := c.Call(ctx, TaskNudgeGeneration, []chatMessage{systemMessage(), userMessage(prompt)}, tool, isLowQualityGeneric(""))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Nudges
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// DetectAnomalies calls the anomaly_detection task (S-anomalies).
func (c *Client) DetectAnomalies(ctx context.Context, masterContext string, recentSessions []string) (*schema.Anomalies, error) {
	tool := toolSchema{name: "anomaly_detection", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"anomalies": map[string]any{"type": "array"},
		},
		"required": []string{"anomalies"},
	}}
	prompt := "Master context:\n" + masterContext + "\n\nRecent sessions:\n" + strings.Join(recentSessions, "\n")
	raw, err := c.Call(ctx, TaskAnomalyDetection, []chatMessage{systemMessage(), userMessage(prompt)}, tool, isLowQualityGeneric(""))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.Anomalies
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// ExtractFields calls either extract_from_transcript or extract_session_fields
// (S-extract), selected by fromTranscript.
func (c *Client) ExtractFields(ctx context.Context, text string, fromTranscript bool) (*schema.ExtractedFields, error) {
	task := TaskExtractSessionFields
	if fromTranscript {
		task = TaskExtractFromTranscript
	}
	tool := toolSchema{name: "extracted_fields", parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":       map[string]any{"type": "string"},
			"decisions":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"failures":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"files_changed": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"next_steps":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"tags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"significance":  map[string]any{"type": "string"},
		},
		"required": []string{"summary", "tags", "significance"},
	}}
	raw, err := c.Call(ctx, task, []chatMessage{systemMessage(), userMessage(text)}, tool, isLowQualityGeneric(""))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out schema.ExtractedFields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil
	}
	return &out, nil
}

// Package modelclient implements the task-routed model client C2: calling an
// external language-model provider (an OpenRouter-compatible chat-completions
// endpoint), enforcing a per-task structured-output (tool call) contract, and
// escalating from a fast model to a smart model on a low-quality result.
// See spec.md §4.2.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/apperr"
	"eve.evalgo.org/memoryengine/internal/degradation"
)

// Task is a finite enumeration of the model tasks the client routes.
type Task string

const (
	TaskSessionSummary    Task = "session_summary"
	TaskEntityExtraction  Task = "entity_extraction"
	TaskTriage            Task = "triage"
	TaskDecisionExtraction Task = "decision_extraction"
	TaskMasterCompression Task = "master_compression"
	TaskPatternAnalysis   Task = "pattern_analysis"
	TaskAnomalyDetection  Task = "anomaly_detection"
	TaskNudgeGeneration   Task = "nudge_generation"
	TaskCockpitUpdate     Task = "cockpit_update"
	TaskExtractFromTranscript Task = "extract_from_transcript"
	TaskExtractSessionFields  Task = "extract_session_fields"
)

// Tier is either the fast or the smart model pool.
type Tier string

const (
	TierFast  Tier = "fast"
	TierSmart Tier = "smart"
)

// defaultTaskTier is the default fast/smart routing from spec.md §4.2.
var defaultTaskTier = map[Task]Tier{
	TaskSessionSummary:        TierFast,
	TaskEntityExtraction:      TierFast,
	TaskNudgeGeneration:       TierFast,
	TaskAnomalyDetection:      TierFast,
	TaskExtractFromTranscript: TierFast,
	TaskExtractSessionFields:  TierFast,
	TaskTriage:                TierSmart,
	TaskMasterCompression:     TierSmart,
	TaskPatternAnalysis:       TierSmart,
	TaskDecisionExtraction:    TierFast,
	TaskCockpitUpdate:         TierFast,
}

// hedgingPhrases trigger escalation when found case-insensitively in any
// string field of a parsed result (spec.md §4.2).
var hedgingPhrases = []string{
	"i'm not sure",
	"unclear",
	"cannot determine",
	"n/a",
}

// Router maps tasks to concrete model identifiers and holds the fast->smart
// escalation map. It can be hot-patched at runtime by the settings endpoint
// (SPEC_FULL.md §7).
type Router struct {
	TaskTier     map[Task]Tier
	FastModel    string
	SmartModel   string
	Escalation   map[string]string // fast model id -> smart model id
}

// NewRouter builds a router with the default task/tier map.
func NewRouter(fastModel, smartModel string) *Router {
	tierCopy := make(map[Task]Tier, len(defaultTaskTier))
	for k, v := range defaultTaskTier {
		tierCopy[k] = v
	}
	return &Router{
		TaskTier:   tierCopy,
		FastModel:  fastModel,
		SmartModel: smartModel,
		Escalation: map[string]string{fastModel: smartModel},
	}
}

func (r *Router) modelFor(task Task) string {
	if r.TaskTier[task] == TierSmart {
		return r.SmartModel
	}
	return r.FastModel
}

func (r *Router) escalated(model string) (string, bool) {
	smart, ok := r.Escalation[model]
	return smart, ok && smart != model
}

// Transport is the minimal surface the client needs from an HTTP transport,
// satisfied by *http.Client in production and a fake in tests.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the model client C2.
type Client struct {
	log         *logrus.Logger
	degrade     *degradation.Manager
	router      *Router
	baseURL     string
	apiKey      string
	transport   Transport
	callCount   int64
	retries     int
	retryWait   time.Duration
	timeout     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTransport overrides the HTTP transport (used in tests).
func WithTransport(t Transport) Option { return func(c *Client) { c.transport = t } }

// WithRetries overrides the transport-level retry count and linear backoff
// step (SPEC_FULL.md §7, grounded on original_source/services/openrouter.py's
// retry-before-escalation behavior).
func WithRetries(n int, wait time.Duration) Option {
	return func(c *Client) { c.retries = n; c.retryWait = wait }
}

// New creates a model client.
func New(log *logrus.Logger, degrade *degradation.Manager, router *Router, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		log:       log,
		degrade:   degrade,
		router:    router,
		baseURL:   baseURL,
		apiKey:    apiKey,
		transport: &http.Client{Timeout: 60 * time.Second},
		retries:   2,
		retryWait: 500 * time.Millisecond,
		timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallCount returns the number of outbound model calls made so far. Cost is
// not tracked numerically per spec.md §4.2; a call counter is sufficient.
func (c *Client) CallCount() int64 { return atomic.LoadInt64(&c.callCount) }

// chatMessage is one entry of the chat-completions message list.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toolSchema describes the single named tool the model must call.
type toolSchema struct {
	name       string
	parameters map[string]any
}

// Call invokes task with the given messages, enforcing the structured-output
// contract, and returns the parsed arguments as raw JSON (for the caller to
// unmarshal into the task's concrete schema type), or nil if the model could
// not produce a usable result. Escalation (spec.md §4.2) is applied once.
func (c *Client) Call(ctx context.Context, task Task, messages []chatMessage, tool toolSchema, isLowQuality func(json.RawMessage) bool) (json.RawMessage, error) {
	if !c.degrade.CanCall(degradation.DepOpenRouter) {
		return nil, apperr.CircuitOpen(degradation.DepOpenRouter)
	}

	model := c.router.modelFor(task)
	result, err := c.callOnce(ctx, model, messages, tool)
	if err != nil {
		c.degrade.MarkUnhealthy(degradation.DepOpenRouter, err)
		return nil, err
	}
	c.degrade.MarkHealthy(degradation.DepOpenRouter)

	if result == nil || isLowQuality(result) {
		smartModel, ok := c.router.escalated(model)
		if !ok {
			return result, nil
		}
		if !c.degrade.CanCall(degradation.DepOpenRouter) {
			return result, nil
		}
		escalateMsgs := append(append([]chatMessage{}, messages...), chatMessage{
			Role:    "user",
			Content: fmt.Sprintf("First attempt result: %s\nPlease improve and be more specific.", string(result)),
		})
		escalated, err := c.callOnce(ctx, smartModel, escalateMsgs, tool)
		if err != nil {
			c.degrade.MarkUnhealthy(degradation.DepOpenRouter, err)
			return result, nil
		}
		c.degrade.MarkHealthy(degradation.DepOpenRouter)
		if escalated != nil {
			return escalated, nil
		}
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, model string, messages []chatMessage, tool toolSchema) (json.RawMessage, error) {
	body := map[string]any{
		"model":    model,
		"messages": messages,
		"tools": []map[string]any{{
			"type": "function",
			"function": map[string]any{
				"name":       tool.name,
				"parameters": tool.parameters,
			},
		}},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tool.name},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Decode("openrouter", err)
	}

	var lastErr error
	attempts := c.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		atomic.AddInt64(&c.callCount, 1)
		result, err := c.doRequest(ctx, payload, tool.name)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			time.Sleep(c.retryWait * time.Duration(attempt+1))
		}
	}
	return nil, apperr.Network("openrouter", lastErr)
}

func (c *Client) doRequest(ctx context.Context, payload []byte, toolName string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("model provider returned HTTP %d: %s", resp.StatusCode, string(raw))
	}

	return extractToolArguments(raw, toolName)
}

// chatCompletionResponse is the minimal subset of an OpenRouter/OpenAI style
// response this client parses.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// extractToolArguments returns the parsed arguments of the single tool
// invocation; if the model returned free text instead, it is parsed as JSON;
// on failure, nil is returned (spec.md §4.2).
func extractToolArguments(raw []byte, toolName string) (json.RawMessage, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Decode("openrouter", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	msg := resp.Choices[0].Message
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == toolName || toolName == "" {
			if json.Valid([]byte(tc.Function.Arguments)) {
				return json.RawMessage(tc.Function.Arguments), nil
			}
			return nil, nil
		}
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, nil
	}
	if json.Valid([]byte(content)) {
		return json.RawMessage(content), nil
	}
	return nil, nil
}

// HasHedge reports whether s contains any configured hedging phrase, matched
// case-insensitively.
func HasHedge(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

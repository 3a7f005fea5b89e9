package modelclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/degradation"
)

type fakeTransport struct {
	responses []string // one body per call, replayed in order
	calls     int
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	body := f.responses[idx]
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func toolCallResponse(args string) string {
	return `{"choices":[{"message":{"tool_calls":[{"function":{"name":"session_summary","arguments":` + args + `}}]}}]}`
}

func TestSessionSummaryNoEscalationOnGoodResult(t *testing.T) {
	good := toolCallResponse(`"{\"compressed_summary\":\"rebooted pg\",\"key_topics\":[\"postgres\"],\"significance_confirmed\":\"medium\",\"projects_mentioned\":[]}"`)
	ft := &fakeTransport{responses: []string{good}}
	m := degradation.New(nil)
	router := NewRouter("fast-model", "smart-model")
	c := New(nil, m, router, "http://fake", "", WithTransport(ft))

	summary, err := c.SessionSummary(context.Background(), "rebooted pg to fix hung query")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "rebooted pg", summary.CompressedSummary)
	assert.Equal(t, 1, ft.calls)
}

func TestSessionSummaryEscalatesOnHedge(t *testing.T) {
	hedged := toolCallResponse(`"{\"compressed_summary\":\"unclear what happened\",\"key_topics\":[\"x\"],\"significance_confirmed\":\"low\",\"projects_mentioned\":[]}"`)
	good := toolCallResponse(`"{\"compressed_summary\":\"fixed db\",\"key_topics\":[\"db\"],\"significance_confirmed\":\"medium\",\"projects_mentioned\":[]}"`)
	ft := &fakeTransport{responses: []string{hedged, good}}
	m := degradation.New(nil)
	router := NewRouter("fast-model", "smart-model")
	c := New(nil, m, router, "http://fake", "", WithTransport(ft))

	summary, err := c.SessionSummary(context.Background(), "something happened")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "fixed db", summary.CompressedSummary)
	assert.Equal(t, 2, ft.calls)
}

func TestCallReturnsCircuitOpenWithoutAttempt(t *testing.T) {
	m := degradation.New(nil)
	for i := 0; i < 3; i++ {
		m.MarkUnhealthy(degradation.DepOpenRouter, assertErr{})
	}
	ft := &fakeTransport{responses: []string{toolCallResponse(`"{}"`)}}
	router := NewRouter("fast-model", "smart-model")
	c := New(nil, m, router, "http://fake", "", WithTransport(ft))

	_, err := c.SessionSummary(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 0, ft.calls)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

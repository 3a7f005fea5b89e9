package worker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/model"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/sessionstore"
	"eve.evalgo.org/memoryengine/internal/transcripts"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

type scriptedTransport struct {
	responses map[string]string // tool name substring -> response body
}

func toolResponse(toolName, argsJSON string) string {
	return `{"choices":[{"message":{"tool_calls":[{"function":{"name":"` + toolName + `","arguments":` + argsJSON + `}}]}}]}`
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	raw, _ := io.ReadAll(req.Body)
	body := string(raw)
	for needle, resp := range s.responses {
		if strings.Contains(body, needle) {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(resp))}, nil
		}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(toolResponse("unknown", `"{}"`)))}, nil
}

func newTestDeps(t *testing.T, transport modelclient.Transport) Deps {
	t.Helper()
	m := degradation.New(nil)
	backend, err := archive.NewBoltBackend(t.TempDir()+"/archive.db", schema.AllCollections)
	require.NoError(t, err)
	archiveStore := archive.New(nil, backend, m)

	ctxStore, err := contextstore.New(nil, m, t.TempDir(), "", true)
	require.NoError(t, err)

	transcriptStore, err := transcripts.New(t.TempDir())
	require.NoError(t, err)

	advisoryStore, err := advisory.New(t.TempDir())
	require.NoError(t, err)

	sessions, err := sessionstore.New(t.TempDir())
	require.NoError(t, err)

	router := modelclient.NewRouter("fast-model", "smart-model")
	client := modelclient.New(nil, m, router, "http://fake", "", modelclient.WithTransport(transport))

	return Deps{
		Degrade:     m,
		Model:       client,
		Archive:     archiveStore,
		Context:     ctxStore,
		Transcripts: transcriptStore,
		Advisory:    advisoryStore,
		Sessions:    sessions,
	}
}

func TestProcessSessionSkipsLowSignificanceWhenLearningModeOff(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]string{}}
	deps := newTestDeps(t, transport)
	deps.LearningMode = false

	record := model.SessionRecord{SessionID: "s1", Significance: model.SignificanceLow, CreatedAt: time.Now()}
	require.NoError(t, deps.Sessions.Save(record))

	w := New(deps, NewMemoryQueue(1), 60)
	result := w.processSession(context.Background(), Entry{SessionID: "s1"})
	require.Equal(t, outcomeSkipped, result)
}

func TestProcessSessionHappyPathMarksProcessed(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]string{
		"session_summary": toolResponse("session_summary", `"{\"compressed_summary\":\"fixed db\",\"key_topics\":[\"db\"],\"significance_confirmed\":\"medium\",\"projects_mentioned\":[]}"`),
		"triage":          toolResponse("triage", `"{\"items\":[{\"content\":\"use postgres\",\"action\":\"archive\",\"reason\":\"decision\",\"collection\":\"decisions\"}],\"master_context_updates\":[]}"`),
		"entity_extraction": toolResponse("entity_extraction", `"{\"entities\":[]}"`),
		"compressed_master_context": toolResponse("compressed_master_context", `"{\"master_context_markdown\":\"# Master\\nAll good.\",\"changes_made\":[]}"`),
	}}
	deps := newTestDeps(t, transport)
	deps.LearningMode = true

	record := model.SessionRecord{
		SessionID:    "s2",
		Significance: model.SignificanceHigh,
		Summary:      "fixed the database outage",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, deps.Sessions.Save(record))

	w := New(deps, NewMemoryQueue(1), 60)
	result := w.processSession(context.Background(), Entry{SessionID: "s2"})
	require.Equal(t, outcomeProcessed, result)

	saved, found, err := deps.Sessions.Load("s2")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, saved.Processed)
	require.NotNil(t, saved.ProcessedInfo)
}

func TestProcessSessionVetoesHighSeverityIntegrityDrop(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]string{
		"session_summary":           toolResponse("session_summary", `"{\"compressed_summary\":\"restarted services\",\"key_topics\":[\"infra\"],\"significance_confirmed\":\"high\",\"projects_mentioned\":[]}"`),
		"triage":                    toolResponse("triage", `"{\"items\":[],\"master_context_updates\":[]}"`),
		"entity_extraction":         toolResponse("entity_extraction", `"{\"entities\":[]}"`),
		"compressed_master_context": toolResponse("compressed_master_context", `"{\"master_context_markdown\":\"# Master\\nEverything is fine now.\",\"changes_made\":[]}"`),
	}}
	deps := newTestDeps(t, transport)
	deps.LearningMode = true

	originalMaster := "# Master\nserver at 10.0.0.5 is the primary node.\n"
	require.NoError(t, deps.Context.Write(context.Background(), originalMaster))

	record := model.SessionRecord{
		SessionID:    "s-veto",
		Significance: model.SignificanceHigh,
		Summary:      "restarted the services",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, deps.Sessions.Save(record))

	w := New(deps, NewMemoryQueue(1), 60)
	result := w.processSession(context.Background(), Entry{SessionID: "s-veto"})
	require.Equal(t, outcomeProcessed, result)

	after, ok := deps.Context.Read(context.Background())
	require.True(t, ok)
	require.Equal(t, originalMaster, after.Markdown, "vetoed compression must not overwrite the master context")

	snapshots, err := deps.Archive.All(context.Background(), schema.CollectionSnapshots)
	require.NoError(t, err)
	var blocked *model.ArchiveDocument
	for i := range snapshots {
		if snapshots[i].ID == "s-veto-blocked" {
			blocked = &snapshots[i]
		}
	}
	require.NotNil(t, blocked, "a blocked-draft snapshot must be recorded for the vetoed compression")
	require.Equal(t, "integrity-high-veto", blocked.Metadata["reason"])
}

func TestWorkerEnqueueAndStats(t *testing.T) {
	transport := &scriptedTransport{}
	deps := newTestDeps(t, transport)
	w := New(deps, NewMemoryQueue(4), 60)

	require.NoError(t, w.Enqueue(context.Background(), "s3", "/tmp/s3.json"))
	stats := w.Stats(context.Background())
	require.Equal(t, 1, stats.QueueDepth)
}

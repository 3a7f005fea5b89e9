package ingest

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/sessionstore"
	"eve.evalgo.org/memoryengine/internal/transcripts"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

type fakeTransport struct {
	responses map[string]string
}

func toolResponse(toolName, argsJSON string) string {
	return `{"choices":[{"message":{"tool_calls":[{"function":{"name":"` + toolName + `","arguments":` + argsJSON + `}}]}}]}`
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	raw, _ := io.ReadAll(req.Body)
	body := string(raw)
	for needle, resp := range f.responses {
		if strings.Contains(body, needle) {
			return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(resp))}, nil
		}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(toolResponse("unknown", `"{}"`)))}, nil
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(_ context.Context, sessionID, _ string) error {
	f.enqueued = append(f.enqueued, sessionID)
	return nil
}

func newTestService(t *testing.T, transport modelclient.Transport) (*Service, *fakeQueue) {
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

	queue := &fakeQueue{}
	svc := New(nil, archiveStore, ctxStore, transcriptStore, advisoryStore, sessions, client, queue, m, false)
	return svc, queue
}

var sessionIDPattern = regexp.MustCompile(`^ce-\d{8}-[0-9a-f]{8}$`)

func TestLoadFreshStartIsDegradedWithEmptyHits(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})
	resp, err := svc.Load(context.Background(), "")
	require.NoError(t, err)
	require.Regexp(t, sessionIDPattern, resp.SessionID)
	require.True(t, resp.Degraded)
	require.Empty(t, resp.ArchiveHits)
	require.Empty(t, resp.Nudges)
}

func TestSaveLiteTriggersExtractionAndEnqueues(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{
		"extracted_fields": toolResponse("extracted_fields", `"{\"summary\":\"rebooted pg to fix hung query and verified replication\",\"decisions\":[],\"failures\":[],\"files_changed\":[],\"next_steps\":[],\"tags\":[\"postgres\"],\"significance\":\"medium\"}"`),
	}}
	svc, queue := newTestService(t, transport)

	req := SaveRequest{SessionID: "ce-20260101-aaaaaaaa", Summary: "rebooted pg to fix hung query"}
	resp, err := svc.Save(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Enqueued)
	require.Contains(t, queue.enqueued, "ce-20260101-aaaaaaaa")

	saved, found, err := svc.Sessions.Load("ce-20260101-aaaaaaaa")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, saved.Tags)
	require.Contains(t, []string{"low", "medium", "high"}, string(saved.Significance))
}

func TestCorrectHotReplacesOccurrence(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})
	require.NoError(t, svc.Context.Write(context.Background(), "# Master\ncontainer: redis-01 is primary"))

	resp, err := svc.Correct(context.Background(), CorrectRequest{Item: "redis-01", Correction: "redis-02", Scope: ScopeHot})
	require.NoError(t, err)
	require.True(t, resp.HotUpdated)

	master, _ := svc.Context.Read(context.Background())
	require.Contains(t, master.Markdown, "redis-02")
	require.NotContains(t, master.Markdown, "redis-01")
}

func TestSearchFiltersByTags(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})
	require.NoError(t, svc.Archive.Add(context.Background(), schema.CollectionDecisions, "d1", "use postgres for storage", map[string]string{"tags": "db,infra"}))
	require.NoError(t, svc.Archive.Add(context.Background(), schema.CollectionDecisions, "d2", "use postgres for cache", map[string]string{"tags": "cache"}))

	resp, err := svc.Search(context.Background(), SearchRequest{Query: "postgres", Collections: []string{"decisions"}, Limit: 10, Tags: []string{"infra"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "d1", resp.Results[0].ID)
}

func TestIngestRawPersistsAndEnqueues(t *testing.T) {
	svc, queue := newTestService(t, &fakeTransport{})
	resp, err := svc.IngestRaw(context.Background(), "raw webhook text")
	require.NoError(t, err)
	require.True(t, resp.Enqueued)
	require.Len(t, queue.enqueued, 1)
}

func TestEnforceResponseBudgetTrimsToMinimum(t *testing.T) {
	svc, _ := newTestService(t, &fakeTransport{})
	svc.ResponseCharBudget = 500

	resp := LoadResponse{
		MasterContext: strings.Repeat("m", 100),
		ArchiveHits: []ArchiveHit{
			{ID: "a", Content: strings.Repeat("a", 1000)},
			{ID: "b", Content: strings.Repeat("b", 1000)},
		},
	}
	svc.enforceResponseBudget(&resp)

	total := len(resp.MasterContext)
	for _, h := range resp.ArchiveHits {
		total += len(h.Content)
		require.GreaterOrEqual(t, len(h.Content), minHitChars)
	}
	require.LessOrEqual(t, total, svc.ResponseCharBudget)
}

package ingest

import (
	"context"
	"strings"

	"eve.evalgo.org/memoryengine/internal/model"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// ArchiveHit is one trimmed search result surfaced to a load caller.
type ArchiveHit struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Relevance  float64 `json:"relevance"`
}

// LoadResponse is the response shape of spec.md §4.10's load operation.
type LoadResponse struct {
	SessionID        string       `json:"session_id"`
	MasterContext    string       `json:"master_context"`
	ArchiveHits      []ArchiveHit `json:"archive_hits"`
	FailureWarnings  []ArchiveHit `json:"failure_warnings"`
	Nudges           []model.Nudge `json:"nudges"`
	Conflicts        []model.Anomaly `json:"conflicts"`
	Degraded         bool         `json:"degraded"`
	DegradedReason   string       `json:"degraded_reason,omitempty"`
}

const (
	thresholdArchiveSearch = 1.5
	thresholdFailureSearch = 1.2
	promotionWindowSize    = 10
	promotionMinAppearances = 3
)

// Load implements spec.md §4.10's load operation.
func (s *Service) Load(ctx context.Context, topic string) (LoadResponse, error) {
	sessionID, err := NewSessionID(s.now())
	if err != nil {
		return LoadResponse{}, err
	}

	resp := LoadResponse{SessionID: sessionID}

	master, ok := s.Context.Read(ctx)
	resp.MasterContext = master.Markdown
	if !ok {
		resp.Degraded = true
		resp.DegradedReason = "master context unavailable, placeholder substituted"
	}

	if strings.TrimSpace(topic) != "" {
		resp.ArchiveHits = s.searchArchiveHits(ctx, topic)
		resp.FailureWarnings = s.searchFailureHits(ctx, topic)
	}

	if !s.LearningMode {
		if nudges, err := s.Advisory.ActiveNudges(); err == nil {
			resp.Nudges = nudges
		}
		if anomalies, err := s.Advisory.ActiveAnomalies(); err == nil {
			resp.Conflicts = anomalies
		}
	}

	resp.Nudges = append(resp.Nudges, s.promotionNudges(ctx, master.Markdown)...)

	s.enforceResponseBudget(&resp)
	return resp, nil
}

func (s *Service) searchArchiveHits(ctx context.Context, topic string) []ArchiveHit {
	var hits []ArchiveHit
	for _, collection := range []string{schema.CollectionProjectArchive, schema.CollectionDecisions, schema.CollectionSessions} {
		results, err := s.Archive.SearchThreshold(ctx, collection, topic, 5, thresholdArchiveSearch)
		if err != nil {
			continue
		}
		for _, r := range results {
			hits = append(hits, ArchiveHit{Collection: collection, ID: r.ID, Content: r.Text, Relevance: r.Relevance()})
		}
	}
	return hits
}

func (s *Service) searchFailureHits(ctx context.Context, topic string) []ArchiveHit {
	results, err := s.Archive.SearchThreshold(ctx, schema.CollectionFailures, topic, 3, thresholdFailureSearch)
	if err != nil {
		return nil
	}
	hits := make([]ArchiveHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ArchiveHit{Collection: schema.CollectionFailures, ID: r.ID, Content: r.Text, Relevance: r.Relevance()})
	}
	return hits
}

// promotionNudges returns rule-based promotion hints for topics that recur in
// ≥3 of the last 10 sessions but aren't yet present in master (spec.md
// §4.10).
func (s *Service) promotionNudges(ctx context.Context, master string) []model.Nudge {
	recent, err := s.Archive.GetRecent(ctx, schema.CollectionSessions, promotionWindowSize)
	if err != nil {
		return nil
	}
	counts := map[string]int{}
	for _, doc := range recent {
		for _, topic := range strings.Split(doc.Metadata["topics"], ",") {
			topic = strings.TrimSpace(topic)
			if topic != "" {
				counts[topic]++
			}
		}
	}
	now := s.now()
	var out []model.Nudge
	for topic, n := range counts {
		if n < promotionMinAppearances {
			continue
		}
		if containsFold(master, topic) {
			continue
		}
		out = append(out, model.Nudge{
			ID:        "promotion-" + topic,
			Message:   "recurring topic not yet in master context: " + topic,
			Type:      model.NudgeOpportunity,
			Priority:  model.PriorityMedium,
			CreatedAt: now,
		})
	}
	return out
}

// enforceResponseBudget trims archive-hit content (never below minHitChars)
// until the total response size is under s.ResponseCharBudget (invariant I9).
func (s *Service) enforceResponseBudget(resp *LoadResponse) {
	budget := s.ResponseCharBudget
	if budget <= 0 {
		budget = DefaultResponseCharBudget
	}

	total := len(resp.MasterContext)
	for _, h := range resp.ArchiveHits {
		total += len(h.Content)
	}
	for _, h := range resp.FailureWarnings {
		total += len(h.Content)
	}
	if total <= budget {
		return
	}

	trim := func(hits []ArchiveHit) []ArchiveHit {
		for i := range hits {
			if total <= budget {
				break
			}
			c := hits[i].Content
			if len(c) <= minHitChars {
				continue
			}
			excess := total - budget
			cut := len(c) - minHitChars
			if excess < cut {
				cut = excess
			}
			hits[i].Content = c[:len(c)-cut]
			total -= cut
		}
		return hits
	}
	resp.ArchiveHits = trim(resp.ArchiveHits)
	resp.FailureWarnings = trim(resp.FailureWarnings)
}

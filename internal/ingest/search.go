package ingest

import (
	"context"
	"sort"
	"strings"
	"time"

	"eve.evalgo.org/memoryengine/pkg/schema"
)

const thresholdSearchSurface = 1.8

var defaultSearchCollections = []string{
	schema.CollectionProjectArchive,
	schema.CollectionDecisions,
	schema.CollectionFailures,
	schema.CollectionSessions,
	schema.CollectionEntities,
}

// SearchRequest is the request shape of spec.md §4.10's search operation.
type SearchRequest struct {
	Query       string     `json:"query"`
	Collections []string   `json:"collections,omitempty"`
	Limit       int        `json:"limit"`
	DateAfter   *time.Time `json:"date_after,omitempty"`
	DateBefore  *time.Time `json:"date_before,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// SearchResult is one entry of SearchResponse.Results.
type SearchResult struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Relevance  float64 `json:"relevance"`
}

// SearchResponse is the response shape of spec.md §4.10's search operation.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search implements spec.md §4.10's search operation: union across
// collections, alias resolution, relevance threshold, date/tag filters,
// relevance-descending sort, limit truncation.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	collections := req.Collections
	if len(collections) == 0 {
		collections = defaultSearchCollections
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	var results []SearchResult
	for _, raw := range collections {
		canonical := schema.ResolveCollection(raw)
		hits, err := s.Archive.SearchThreshold(ctx, canonical, req.Query, limit, thresholdSearchSurface)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if !matchesDate(h.Metadata["created_at"], req.DateAfter, req.DateBefore) {
				continue
			}
			if !matchesTags(h.Metadata["tags"], req.Tags) {
				continue
			}
			results = append(results, SearchResult{Collection: canonical, ID: h.ID, Content: h.Text, Relevance: h.Relevance()})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}
	return SearchResponse{Results: results}, nil
}

func matchesDate(raw string, after, before *time.Time) bool {
	if after == nil && before == nil {
		return true
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	if after != nil && ts.Before(*after) {
		return false
	}
	if before != nil && ts.After(*before) {
		return false
	}
	return true
}

func matchesTags(raw string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	present := strings.Split(raw, ",")
	for _, w := range wanted {
		found := false
		for _, p := range present {
			if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(w)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

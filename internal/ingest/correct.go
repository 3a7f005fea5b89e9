package ingest

import (
	"context"
	"fmt"
	"strings"

	"eve.evalgo.org/memoryengine/pkg/schema"
)

// CorrectScope selects which tier a correction applies to.
type CorrectScope string

const (
	ScopeHot     CorrectScope = "hot"
	ScopeArchive CorrectScope = "archive"
	ScopeBoth    CorrectScope = "both"
)

const correctArchiveThreshold = 0.5

var correctionCollections = []string{
	schema.CollectionProjectArchive,
	schema.CollectionDecisions,
	schema.CollectionFailures,
	schema.CollectionSessions,
	schema.CollectionEntities,
}

// CorrectRequest is the request shape of spec.md §4.10's correct operation.
type CorrectRequest struct {
	Item       string       `json:"item"`
	Correction string       `json:"correction"`
	Scope      CorrectScope `json:"scope"`
}

// CorrectResponse reports how many records were touched.
type CorrectResponse struct {
	HotUpdated     bool `json:"hot_updated"`
	ArchiveUpdated int  `json:"archive_updated"`
}

// Correct implements spec.md §4.10's correct operation.
func (s *Service) Correct(ctx context.Context, req CorrectRequest) (CorrectResponse, error) {
	var resp CorrectResponse

	if req.Scope == ScopeHot || req.Scope == ScopeBoth {
		updated, err := s.correctHot(ctx, req.Item, req.Correction)
		if err != nil {
			return resp, err
		}
		resp.HotUpdated = updated
	}

	if req.Scope == ScopeArchive || req.Scope == ScopeBoth {
		n, err := s.correctArchive(ctx, req.Item, req.Correction)
		if err != nil {
			return resp, err
		}
		resp.ArchiveUpdated = n
	}

	return resp, nil
}

func (s *Service) correctHot(ctx context.Context, item, correction string) (bool, error) {
	master, _ := s.Context.Read(ctx)
	replaced, changed := replaceFirstFold(master.Markdown, item, correction)
	if !changed {
		return false, nil
	}
	if err := s.Context.Write(ctx, replaced); err != nil {
		return false, fmt.Errorf("write corrected master: %w", err)
	}
	return true, nil
}

func (s *Service) correctArchive(ctx context.Context, item, correction string) (int, error) {
	count := 0
	for _, collection := range correctionCollections {
		hits, err := s.Archive.SearchThreshold(ctx, collection, item, 10, correctArchiveThreshold)
		if err != nil {
			continue
		}
		for _, hit := range hits {
			if err := s.Archive.Snapshot(ctx, collection, hit.ID); err != nil && s.Log != nil {
				s.Log.WithError(err).Warn("pre-correction snapshot failed")
			}
			text, changed := replaceFirstFold(hit.Text, item, correction)
			if !changed {
				text = hit.Text + "\n[CORRECTION: " + correction + "]"
			}
			meta := hit.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			meta["corrected"] = "true"
			if err := s.Archive.Upsert(ctx, collection, hit.ID, text, meta); err == nil {
				count++
			}
		}
	}
	return count, nil
}

// replaceFirstFold replaces the first exact or case-insensitive occurrence of
// old in text with new, reporting whether a replacement happened.
func replaceFirstFold(text, old, new string) (string, bool) {
	if old == "" {
		return text, false
	}
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(old))
	if idx < 0 {
		return text, false
	}
	return text[:idx] + new + text[idx+len(old):], true
}

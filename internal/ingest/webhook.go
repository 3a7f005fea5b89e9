package ingest

import (
	"context"

	"eve.evalgo.org/memoryengine/internal/model"
)

// IngestPayload is the external webhook adapter's structured body.
type IngestPayload struct {
	Summary      string            `json:"summary"`
	Significance string            `json:"significance,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	ProjectState map[string]string `json:"project_state,omitempty"`
	Source       string            `json:"source,omitempty"`
}

// IngestResponse confirms persistence and enqueue for both webhook adapters.
type IngestResponse struct {
	SessionID string `json:"session_id"`
	Enqueued  bool   `json:"enqueued"`
}

// Ingest implements spec.md §4.10's ingest(payload) webhook adapter: writes a
// session record tagged with its source and enqueues it.
func (s *Service) Ingest(ctx context.Context, payload IngestPayload) (IngestResponse, error) {
	sessionID, err := NewSessionID(s.now())
	if err != nil {
		return IngestResponse{}, err
	}
	source := payload.Source
	if source == "" {
		source = "webhook"
	}
	record := model.SessionRecord{
		SessionID:    sessionID,
		CreatedAt:    s.now(),
		Summary:      payload.Summary,
		Significance: schemaSignificance(payload.Significance),
		Tags:         payload.Tags,
		ProjectState: payload.ProjectState,
		Source:       source,
	}
	return s.persistAndEnqueue(ctx, record)
}

// IngestRaw implements spec.md §4.10's ingest_raw(text) webhook adapter: the
// raw text becomes the session summary verbatim.
func (s *Service) IngestRaw(ctx context.Context, text string) (IngestResponse, error) {
	sessionID, err := NewSessionID(s.now())
	if err != nil {
		return IngestResponse{}, err
	}
	record := model.SessionRecord{
		SessionID:    sessionID,
		CreatedAt:    s.now(),
		Summary:      text,
		Significance: model.SignificanceMedium,
		Source:       "webhook_raw",
	}
	return s.persistAndEnqueue(ctx, record)
}

func (s *Service) persistAndEnqueue(ctx context.Context, record model.SessionRecord) (IngestResponse, error) {
	if err := s.Sessions.Save(record); err != nil {
		return IngestResponse{}, err
	}
	resp := IngestResponse{SessionID: record.SessionID}
	if s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, record.SessionID, s.Sessions.Path(record.SessionID)); err != nil {
			return resp, err
		}
		resp.Enqueued = true
	}
	return resp, nil
}

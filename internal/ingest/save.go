package ingest

import (
	"context"

	"eve.evalgo.org/memoryengine/internal/model"
)

// SaveRequest is the request shape of spec.md §4.10's save operation. Fields
// left zero-valued are filled in from extraction when possible.
type SaveRequest struct {
	SessionID      string            `json:"session_id"`
	Summary        string            `json:"summary"`
	Significance   string            `json:"significance,omitempty"`
	Decisions      []string          `json:"decisions,omitempty"`
	Failures       []string          `json:"failures,omitempty"`
	FilesChanged   []string          `json:"files_changed,omitempty"`
	NextSteps      []string          `json:"next_steps,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	ProjectState   map[string]string `json:"project_state,omitempty"`
	Source         string            `json:"source,omitempty"`
	TranscriptText string            `json:"transcript_text,omitempty"`
}

// SaveResponse confirms persistence and enqueue.
type SaveResponse struct {
	SessionID string `json:"session_id"`
	Enqueued  bool   `json:"enqueued"`
	Degraded  bool   `json:"degraded"`
}

func hasStructuredFields(req SaveRequest) bool {
	return len(req.Decisions) > 0 || len(req.Failures) > 0 || len(req.FilesChanged) > 0 ||
		len(req.NextSteps) > 0 || len(req.Tags) > 0 || req.Significance != ""
}

func (s *Service) recordFromSaveRequest(req SaveRequest) model.SessionRecord {
	significance := model.SignificanceMedium
	if req.Significance != "" {
		significance = schemaSignificance(req.Significance)
	}
	return model.SessionRecord{
		SessionID:    req.SessionID,
		CreatedAt:    s.now(),
		Summary:      req.Summary,
		Significance: significance,
		Decisions:    req.Decisions,
		Failures:     req.Failures,
		FilesChanged: req.FilesChanged,
		NextSteps:    req.NextSteps,
		Tags:         req.Tags,
		ProjectState: req.ProjectState,
		Source:       req.Source,
	}
}

// Save implements spec.md §4.10's save operation: transcript-derived
// extraction when a transcript is supplied, lite-save extraction from the
// bare summary when no structured fields were sent, and no extraction when
// they were; the record is then saved and enqueued when a queue is configured.
func (s *Service) Save(ctx context.Context, req SaveRequest) (SaveResponse, error) {
	record := s.recordFromSaveRequest(req)
	resp := SaveResponse{SessionID: req.SessionID}

	switch {
	case req.TranscriptText != "":
		if _, err := s.Transcripts.Store(req.SessionID, req.TranscriptText); err != nil && s.Log != nil {
			s.Log.WithError(err).Warn("transcript store failed during save")
		}
		extracted, err := s.Model.ExtractFields(ctx, req.TranscriptText, true)
		if err != nil || extracted == nil {
			resp.Degraded = true
		} else {
			record = extractedToRecord(record, *extracted, true)
		}
	case !hasStructuredFields(req):
		extracted, err := s.Model.ExtractFields(ctx, req.Summary, false)
		if err != nil || extracted == nil {
			resp.Degraded = true
		} else {
			record = extractedToRecord(record, *extracted, true)
		}
	}

	if err := s.Sessions.Save(record); err != nil {
		return resp, err
	}

	if s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, record.SessionID, s.Sessions.Path(record.SessionID)); err != nil {
			return resp, err
		}
		resp.Enqueued = true
	}
	return resp, nil
}

// CheckpointRequest is a lightweight version of SaveRequest: always extracts,
// and accepts a transcript either inline or by path.
type CheckpointRequest struct {
	SessionID      string `json:"session_id"`
	Note           string `json:"note"`
	TranscriptText string `json:"transcript_text,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// CheckpointResponse mirrors SaveResponse.
type CheckpointResponse struct {
	SessionID string `json:"session_id"`
	Enqueued  bool   `json:"enqueued"`
	Degraded  bool   `json:"degraded"`
}

// Checkpoint implements spec.md §4.10's checkpoint operation.
func (s *Service) Checkpoint(ctx context.Context, req CheckpointRequest) (CheckpointResponse, error) {
	resp := CheckpointResponse{SessionID: req.SessionID}

	transcriptText := req.TranscriptText
	if transcriptText == "" && req.TranscriptPath != "" {
		if loaded, found, err := s.Transcripts.Load(req.TranscriptPath); err == nil && found {
			transcriptText = loaded
		}
	}

	record := model.SessionRecord{SessionID: req.SessionID, CreatedAt: s.now(), Summary: req.Note, Significance: model.SignificanceMedium}

	extractSource := req.Note
	fromTranscript := false
	if transcriptText != "" {
		if _, err := s.Transcripts.Store(req.SessionID, transcriptText); err != nil && s.Log != nil {
			s.Log.WithError(err).Warn("transcript store failed during checkpoint")
		}
		extractSource = transcriptText
		fromTranscript = true
	}

	extracted, err := s.Model.ExtractFields(ctx, extractSource, fromTranscript)
	if err != nil || extracted == nil {
		resp.Degraded = true
	} else {
		record = extractedToRecord(record, *extracted, true)
	}

	if err := s.Sessions.Save(record); err != nil {
		return resp, err
	}
	if s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, record.SessionID, s.Sessions.Path(record.SessionID)); err != nil {
			return resp, err
		}
		resp.Enqueued = true
	}
	return resp, nil
}

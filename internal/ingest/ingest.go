// Package ingest implements the ingest surface C10: load, save, checkpoint,
// search, correct, and the external webhook adapters. These are the
// operations the pipeline feeds from and answers to (spec.md §4.10); HTTP
// transport is wired separately in internal/httpapi so this package stays a
// plain, testable service layer.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/sessionstore"
	"eve.evalgo.org/memoryengine/internal/transcripts"
	"eve.evalgo.org/memoryengine/internal/model"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// DefaultResponseCharBudget is the load-response trim target of spec.md
// §4.10 and invariant I9.
const DefaultResponseCharBudget = 40000

// minHitChars is the floor an archive hit is trimmed to while enforcing the
// response budget; hits are never dropped, only shortened.
const minHitChars = 200

// QueueEnqueuer is the worker-facing callback the ingest surface pushes
// accepted sessions onto.
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, sessionID, sessionFilePath string) error
}

// Service bundles every collaborator the ingest surface calls into.
type Service struct {
	Log                *logrus.Logger
	Archive            *archive.Store
	Context            *contextstore.Store
	Transcripts        *transcripts.Store
	Advisory           *advisory.Store
	Sessions           *sessionstore.Store
	Model              *modelclient.Client
	Queue              QueueEnqueuer
	Degrade            *degradation.Manager
	LearningMode       bool
	ResponseCharBudget int
	now                func() time.Time
}

// New creates a Service, defaulting the response character budget per
// spec.md §4.10.
func New(log *logrus.Logger, archiveStore *archive.Store, ctxStore *contextstore.Store, transcriptStore *transcripts.Store, advisoryStore *advisory.Store, sessions *sessionstore.Store, modelClient *modelclient.Client, queue QueueEnqueuer, degrade *degradation.Manager, learningMode bool) *Service {
	return &Service{
		Log:                log,
		Archive:            archiveStore,
		Context:            ctxStore,
		Transcripts:        transcriptStore,
		Advisory:           advisoryStore,
		Sessions:           sessions,
		Model:              modelClient,
		Queue:              queue,
		Degrade:            degrade,
		LearningMode:       learningMode,
		ResponseCharBudget: DefaultResponseCharBudget,
		now:                time.Now,
	}
}

// NewSessionID generates a `ce-{yyyymmdd}-{8hex}` identifier.
func NewSessionID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return fmt.Sprintf("ce-%s-%s", now.UTC().Format("20060102"), hex.EncodeToString(buf)), nil
}

func schemaSignificance(s string) model.Significance {
	switch model.Significance(s) {
	case model.SignificanceLow, model.SignificanceMedium, model.SignificanceHigh:
		return model.Significance(s)
	default:
		return model.SignificanceMedium
	}
}

func extractedToRecord(record model.SessionRecord, extracted schema.ExtractedFields, overrideEmpty bool) model.SessionRecord {
	if overrideEmpty {
		if record.Summary == "" {
			record.Summary = extracted.Summary
		}
		if len(record.Decisions) == 0 {
			record.Decisions = extracted.Decisions
		}
		if len(record.Failures) == 0 {
			record.Failures = extracted.Failures
		}
		if len(record.FilesChanged) == 0 {
			record.FilesChanged = extracted.FilesChanged
		}
		if len(record.NextSteps) == 0 {
			record.NextSteps = extracted.NextSteps
		}
		if len(record.Tags) == 0 {
			record.Tags = extracted.Tags
		}
		if record.Significance == "" {
			record.Significance = schemaSignificance(extracted.Significance)
		}
		return record
	}
	record.Summary = extracted.Summary
	record.Decisions = extracted.Decisions
	record.Failures = extracted.Failures
	record.FilesChanged = extracted.FilesChanged
	record.NextSteps = extracted.NextSteps
	record.Tags = extracted.Tags
	record.Significance = schemaSignificance(extracted.Significance)
	return record
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

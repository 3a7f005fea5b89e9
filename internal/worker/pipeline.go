package worker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"eve.evalgo.org/memoryengine/internal/integrity"
	"eve.evalgo.org/memoryengine/internal/model"
	"eve.evalgo.org/memoryengine/pkg/schema"
)

// processSession executes the fourteen-step pipeline of spec.md §4.8 against
// one dequeued entry.
func (w *Worker) processSession(ctx context.Context, entry Entry) outcome {
	log := w.deps.Log

	// 2. Load
	record, found, err := w.deps.Sessions.Load(entry.SessionID)
	if err != nil || !found {
		if log != nil {
			log.WithField("session_id", entry.SessionID).Warn("session load failed, counting as failed")
		}
		return outcomeFailed
	}

	// 3. Significance filter
	if !w.deps.LearningMode && record.Significance == model.SignificanceLow {
		return outcomeSkipped
	}

	// 4. Read master
	master, ok := w.deps.Context.Read(ctx)
	degraded := !ok

	// 5. Snapshot current master
	masterSnapshotID := fmt.Sprintf("master-context:%s", w.now().UTC().Format("20060102150405"))
	if err := w.deps.Archive.Add(ctx, schema.CollectionSnapshots, masterSnapshotID, master.Markdown, map[string]string{
		"source_collection": "master-context",
		"session_id":        record.SessionID,
	}); err != nil && log != nil {
		log.WithError(err).Warn("master snapshot failed, continuing")
	}

	// 6. Summarize session
	summary, err := w.deps.Model.SessionSummary(ctx, sessionDigestText(record))
	if err != nil || summary == nil {
		summary = degradedSummary(record)
	}

	// 7. Triage session
	triage, err := w.deps.Model.Triage(ctx, sessionDigestText(record), master.Markdown)
	if err != nil || triage == nil {
		if log != nil {
			log.WithField("session_id", entry.SessionID).Warn("triage failed, aborting session")
		}
		return outcomeFailed
	}

	// 8. Write session digest
	topics := strings.Join(summary.KeyTopics, ",")
	sessionMeta := map[string]string{
		"session_id":   record.SessionID,
		"timestamp":    record.CreatedAt.UTC().Format(time.RFC3339),
		"significance": string(record.Significance),
		"topics":       topics,
		"source":       record.Source,
	}
	if err := w.deps.Archive.Add(ctx, schema.CollectionSessions, "session-"+record.SessionID, summary.CompressedSummary, sessionMeta); err != nil && log != nil {
		log.WithError(err).Warn("session digest write failed")
	}

	// 9. Archive items
	w.archiveTriageItems(ctx, record, triage)

	// 10. Extract decisions and failures
	for i, d := range record.Decisions {
		id := fmt.Sprintf("decision-%s-%d", record.SessionID, i)
		_ = w.deps.Archive.Add(ctx, schema.CollectionDecisions, id, d, map[string]string{"session_id": record.SessionID})
	}
	for i, f := range record.Failures {
		id := fmt.Sprintf("failure-%s-%d", record.SessionID, i)
		_ = w.deps.Archive.Add(ctx, schema.CollectionFailures, id, f, map[string]string{"session_id": record.SessionID})
	}

	// 11. Extract entities
	if entities, err := w.deps.Model.ExtractEntities(ctx, sessionDigestText(record)); err == nil && entities != nil {
		for _, e := range entities.Entities {
			id := fmt.Sprintf("entity-%s-%s", slugify(e.Name), record.SessionID)
			meta := map[string]string{"session_id": record.SessionID, "type": e.Type, "relationships": strings.Join(e.Relationships, ",")}
			if err := w.deps.Archive.Upsert(ctx, schema.CollectionEntities, id, e.Context, meta); err != nil && log != nil {
				log.WithError(err).Warn("entity upsert failed, continuing")
			}
		}
	} else if log != nil && err != nil {
		log.WithError(err).Warn("entity extraction failed, continuing")
	}

	// 12. Compress master, integrity-check, conditionally write
	w.compressAndWriteMaster(ctx, record, master.Markdown)

	// 13. Mark processed
	record.Processed = true
	now := w.now()
	record.ProcessedAt = &now
	record.ProcessedInfo = &model.ProcessedInfo{
		Timestamp:         now,
		Summary:           summary.CompressedSummary,
		TriageItemCount:   len(triage.Items),
		MasterUpdateCount: len(triage.MasterContextUpdates),
	}
	if err := w.deps.Sessions.Save(record); err != nil && log != nil {
		log.WithError(err).Warn("failed to mark session processed")
	}

	_ = degraded
	return outcomeProcessed
}

func sessionDigestText(record model.SessionRecord) string {
	var b strings.Builder
	b.WriteString(record.Summary)
	if len(record.Decisions) > 0 {
		b.WriteString("\nDecisions: " + strings.Join(record.Decisions, "; "))
	}
	if len(record.Failures) > 0 {
		b.WriteString("\nFailures: " + strings.Join(record.Failures, "; "))
	}
	if len(record.NextSteps) > 0 {
		b.WriteString("\nNext steps: " + strings.Join(record.NextSteps, "; "))
	}
	return b.String()
}

func degradedSummary(record model.SessionRecord) *schema.Summary {
	return &schema.Summary{
		CompressedSummary:     record.Summary,
		KeyTopics:             record.Tags,
		SignificanceConfirmed: string(record.Significance),
		ProjectsMentioned:     nil,
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	lower := strings.ToLower(s)
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

func (w *Worker) archiveTriageItems(ctx context.Context, record model.SessionRecord, triage *schema.Triage) {
	for i, item := range triage.Items {
		action := item.Action
		if w.deps.LearningMode && action == schema.ActionDiscard {
			action = schema.ActionArchive
		}
		if action != schema.ActionArchive && action != schema.ActionMerge {
			continue
		}
		collection := schema.ResolveCollection(item.Collection)
		if action == schema.ActionMerge && item.MergeTarget != "" {
			w.mergeItem(ctx, collection, item)
			continue
		}
		id := fmt.Sprintf("triage-%s-%d", record.SessionID, i)
		_ = w.deps.Archive.Add(ctx, collection, id, item.Content, map[string]string{
			"session_id": record.SessionID,
			"reason":     item.Reason,
		})
	}
}

func (w *Worker) mergeItem(ctx context.Context, collection string, item schema.TriageItem) {
	hits, err := w.deps.Archive.Search(ctx, collection, item.MergeTarget, 1)
	if err != nil || len(hits) == 0 {
		id := "merge-" + slugify(item.MergeTarget)
		_ = w.deps.Archive.Add(ctx, collection, id, item.Content, map[string]string{"reason": item.Reason})
		return
	}
	target := hits[0]
	if err := w.deps.Archive.Snapshot(ctx, collection, target.ID); err != nil && w.deps.Log != nil {
		w.deps.Log.WithError(err).Warn("pre-merge snapshot failed")
	}
	merged := fmt.Sprintf("%s\n\n[Updated %s]\n%s", target.Text, w.now().UTC().Format(time.RFC3339), item.Content)
	_ = w.deps.Archive.Upsert(ctx, collection, target.ID, merged, target.Metadata)
}

func (w *Worker) compressAndWriteMaster(ctx context.Context, record model.SessionRecord, currentMaster string) {
	compression, err := w.deps.Model.CompressMaster(ctx, currentMaster, sessionDigestText(record))
	if err != nil || compression == nil {
		if w.deps.Log != nil {
			w.deps.Log.WithField("session_id", record.SessionID).Warn("master compression failed, keeping current master")
		}
		return
	}
	draft := compression.MasterContextMarkdown

	_, severity := integrity.Check(currentMaster, draft, w.deps.IntegrityOpts)
	if severity == integrity.SeverityHigh {
		blockedID := record.SessionID + "-blocked"
		_ = w.deps.Archive.Add(ctx, schema.CollectionSnapshots, blockedID, draft, map[string]string{
			"session_id": record.SessionID,
			"reason":     "integrity-high-veto",
		})
		if w.deps.Alerter != nil {
			_ = w.deps.Alerter.Send(ctx, fmt.Sprintf(
				"master write vetoed for session %s: high-severity integrity drop (%d known-fact categories on file for reference)",
				record.SessionID, len(w.knownFacts)))
		}
		return
	}

	if err := w.deps.Context.Write(ctx, draft); err != nil && w.deps.Log != nil {
		w.deps.Log.WithError(err).Warn("master context write failed")
	}
}

// runPeriodicAnalyses runs the every-5th/3rd/4th processed-session analyses
// of spec.md §4.8 step 14.
func (w *Worker) runPeriodicAnalyses(ctx context.Context) {
	n := w.processedCount
	if n%5 == 0 {
		w.computePatterns(ctx)
	}
	if n%3 == 0 && !w.deps.LearningMode {
		w.generateNudges(ctx)
	}
	if n%4 == 0 && !w.deps.LearningMode {
		w.detectAnomalies(ctx)
	}
}

func (w *Worker) computePatterns(ctx context.Context) {
	recent, err := w.deps.Archive.GetRecent(ctx, schema.CollectionSessions, 10)
	if err != nil {
		return
	}
	texts := docTexts(recent)
	patterns, err := w.deps.Model.AnalyzePatterns(ctx, texts)
	if err != nil || patterns == nil {
		return
	}
	for i, p := range patterns.Patterns {
		id := fmt.Sprintf("pattern-%s-%d", slugify(p.Pattern), i)
		_ = w.deps.Archive.Upsert(ctx, schema.CollectionPatterns, id, p.Pattern, map[string]string{
			"type":      p.Type,
			"frequency": strconv.Itoa(p.Frequency),
		})
	}
}

func (w *Worker) generateNudges(ctx context.Context) {
	master, _ := w.deps.Context.Read(ctx)
	recentSessions, _ := w.deps.Archive.GetRecent(ctx, schema.CollectionSessions, 10)
	recentPatterns, _ := w.deps.Archive.GetRecent(ctx, schema.CollectionPatterns, 10)
	recentFailures, _ := w.deps.Archive.GetRecent(ctx, schema.CollectionFailures, 10)

	nudges, err := w.deps.Model.GenerateNudges(ctx, master.Markdown, docTexts(recentSessions), docTexts(recentPatterns), docTexts(recentFailures))
	if err != nil || nudges == nil {
		return
	}
	var converted []model.Nudge
	for _, n := range nudges.Nudges {
		nudge := model.Nudge{
			Message:          n.Message,
			Type:             model.NudgeType(n.Type),
			Priority:         model.Priority(n.Priority),
			ExpiresAfterDays: n.ExpiresAfterDays,
		}
		if n.ExpiresAfterDays > 0 {
			nudge.ExpiresAt = w.now().AddDate(0, 0, n.ExpiresAfterDays)
		}
		converted = append(converted, nudge)
	}
	if _, err := w.deps.Advisory.StoreNudges("", converted); err != nil && w.deps.Log != nil {
		w.deps.Log.WithError(err).Warn("nudge persistence failed")
	}
}

func (w *Worker) detectAnomalies(ctx context.Context) {
	master, _ := w.deps.Context.Read(ctx)
	recentSessions, _ := w.deps.Archive.GetRecent(ctx, schema.CollectionSessions, 10)

	anomalies, err := w.deps.Model.DetectAnomalies(ctx, master.Markdown, docTexts(recentSessions))
	if err != nil || anomalies == nil {
		return
	}
	var converted []model.Anomaly
	for _, a := range anomalies.Anomalies {
		anomaly := model.Anomaly{
			Description:      a.Description,
			Type:             model.AnomalyType(a.Type),
			Severity:         model.Severity(a.Severity),
			Evidence:         a.Evidence,
			ExpiresAfterDays: a.ExpiresAfterDays,
		}
		if a.ExpiresAfterDays > 0 {
			anomaly.ExpiresAt = w.now().AddDate(0, 0, a.ExpiresAfterDays)
		}
		converted = append(converted, anomaly)
	}
	if _, err := w.deps.Advisory.StoreAnomalies("", converted); err != nil && w.deps.Log != nil {
		w.deps.Log.WithError(err).Warn("anomaly persistence failed")
	}
}

func docTexts(docs []model.ArchiveDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

package proctoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/logging"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/penalty"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

// EventInput is one client-observed event.
type EventInput struct {
	EventType    string
	Severity     string
	Payload      map[string]any
	Timestamp    *time.Time
	SequenceID   *int64
	Confidence   *float64
	DurationMS   *int64
	ModelVersion string
}

// EventRejection explains why one event in a batch was skipped.
type EventRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type BatchResult struct {
	SessionID         string           `json:"session_id"`
	Accepted          int              `json:"accepted"`
	Rejected          int              `json:"rejected"`
	Duplicates        int              `json:"duplicates"`
	ViolationsCreated int              `json:"violations_created"`
	LastSequence      *int64           `json:"last_sequence"`
	Errors            []EventRejection `json:"errors,omitempty"`
	TotalPenalty      int              `json:"total_penalty"`
}

// IngestEventBatch accepts events in order. An event's sequence number is
// its sequence_id, or sequenceStart+index when sequenceStart is set; zero is
// a valid sequence and events without one are never deduplicated. Any
// sequence at or below the highest accepted so far, including earlier events
// of this batch, is a duplicate. Invalid events are rejected individually.
// Accepted medium and high severity events become violations.
func (s *Service) IngestEventBatch(ctx context.Context, actor Actor, id string, batch []EventInput, sequenceStart *int64) (*BatchResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.IngestEventBatch", traces.SessionID(id), traces.BatchSize(len(batch)))
	defer span.End()

	if len(batch) > s.policy.MaxEventBatch {
		return nil, apperr.Invalid(fmt.Sprintf("batch exceeds maximum of %d events", s.policy.MaxEventBatch))
	}
	if sequenceStart != nil && *sequenceStart < 0 {
		return nil, apperr.Invalid("sequence_start must not be negative")
	}
	now := s.clock.Now()

	var res BatchResult
	sess, vs, err := s.mutate(ctx, actor, id, func(row *models.ProctoringSession) ([]models.Violation, error) {
		res = BatchResult{}
		if row.Status == models.SessionCompleted {
			return nil, errSessionCompleted
		}
		var last int64
		seen := row.LastEventSeq != nil
		if seen {
			last = *row.LastEventSeq
		}
		var out []models.Violation
		for i, ev := range batch {
			seq, sequenced := eventSequence(ev, sequenceStart, i)

			sev, reason := s.validateEvent(ev)
			if reason != "" {
				res.Rejected++
				res.Errors = append(res.Errors, EventRejection{Index: i, Reason: reason})
				continue
			}
			if sequenced && seen && seq <= last {
				res.Duplicates++
				continue
			}
			res.Accepted++
			if sequenced {
				last, seen = seq, true
			}
			if sev.Rank() < penalty.SeverityMedium.Rank() {
				continue
			}
			var evSeq *int64
			if sequenced {
				evSeq = &seq
			}
			out = append(out, s.newViolation(ev.EventType, sev, eventDescription(ev), eventConfidence(ev),
				SourceEvent, eventEvidence(ev, evSeq), eventTime(ev.Timestamp, now)))
		}
		if seen {
			row.LastEventSeq = &last
			reported := last
			res.LastSequence = &reported
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	res.SessionID = sess.ID
	res.ViolationsCreated = len(vs)
	res.TotalPenalty = sess.TotalPenalty
	eventsTotal.WithLabelValues("accepted").Add(float64(res.Accepted))
	eventsTotal.WithLabelValues("rejected").Add(float64(res.Rejected))
	eventsTotal.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	logging.L(ctx).Debug("event batch ingested", "session_id", sess.ID,
		"accepted", res.Accepted, "rejected", res.Rejected, "duplicates", res.Duplicates, "violations", len(vs))
	if len(vs) > 0 {
		s.notify(ctx, UpdateViolation, sess, vs[len(vs)-1].ViolationType)
	}
	return &res, nil
}

func eventSequence(ev EventInput, start *int64, index int) (int64, bool) {
	switch {
	case ev.SequenceID != nil:
		return *ev.SequenceID, true
	case start != nil:
		return *start + int64(index), true
	}
	return 0, false
}

// validateEvent returns the effective severity or a rejection reason.
func (s *Service) validateEvent(ev EventInput) (penalty.Severity, string) {
	if strings.TrimSpace(ev.EventType) == "" {
		return "", "event_type is required"
	}
	if ev.SequenceID != nil && *ev.SequenceID < 0 {
		return "", "sequence_id must not be negative"
	}
	if ev.Confidence != nil && (*ev.Confidence < 0 || *ev.Confidence > 1) {
		return "", "confidence must be between 0 and 1"
	}
	if ev.DurationMS != nil && *ev.DurationMS < 0 {
		return "", "duration_ms must not be negative"
	}
	if strings.TrimSpace(ev.Severity) == "" {
		return s.penalties.Lookup(ev.EventType).Severity, ""
	}
	sev, err := penalty.ParseSeverity(ev.Severity)
	if err != nil {
		return "", "severity must be low, medium or high"
	}
	return sev, ""
}

func eventDescription(ev EventInput) string {
	if ev.Payload == nil {
		return ""
	}
	if d, ok := ev.Payload["description"].(string); ok {
		return strings.TrimSpace(d)
	}
	return ""
}

func eventConfidence(ev EventInput) float64 {
	if ev.Confidence != nil {
		return *ev.Confidence
	}
	return 1.0
}

func eventEvidence(ev EventInput, seq *int64) map[string]any {
	evidence := map[string]any{}
	if len(ev.Payload) > 0 {
		evidence["payload"] = ev.Payload
	}
	if seq != nil {
		evidence["sequence_id"] = *seq
	}
	if ev.DurationMS != nil {
		evidence["duration_ms"] = *ev.DurationMS
	}
	if ev.ModelVersion != "" {
		evidence["model_version"] = ev.ModelVersion
	}
	return evidence
}

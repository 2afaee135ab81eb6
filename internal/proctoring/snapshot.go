package proctoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/models"
	"github.com/zaqqye/proctoring_backend/internal/traces"
)

// SnapshotInput describes an already validated frame and its analysis.
type SnapshotInput struct {
	SHA256     string
	SizeBytes  int
	MimeType   string
	FaceCount  *int
	Degraded   bool
	Detections []Detection
	Evidence   map[string]any
}

type SnapshotResult struct {
	SnapshotID        string  `json:"snapshot_id"`
	SessionID         string  `json:"session_id"`
	ViolationsCreated int     `json:"violations_created"`
	TotalPenalty      int     `json:"total_penalty"`
	IntegrityScore    float64 `json:"integrity_score"`
}

// CheckSessionOpen authorizes actor on a session still accepting input.
// Controllers call it before spending time on uploads.
func (s *Service) CheckSessionOpen(ctx context.Context, actor Actor, id string) error {
	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if sess.Status == models.SessionCompleted {
		return errSessionCompleted
	}
	return nil
}

// RecordSnapshot stores frame metadata and appends any detections.
func (s *Service) RecordSnapshot(ctx context.Context, actor Actor, id string, in SnapshotInput) (*SnapshotResult, error) {
	ctx, span := traces.StartSpan(ctx, "proctoring.RecordSnapshot", traces.SessionID(id))
	defer span.End()

	sess, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionCompleted {
		return nil, errSessionCompleted
	}

	now := s.clock.Now()
	snap := &models.SessionSnapshot{
		ID:         uuid.NewString(),
		SessionID:  id,
		UserID:     sess.UserID,
		SHA256:     in.SHA256,
		SizeBytes:  in.SizeBytes,
		MimeType:   in.MimeType,
		FaceCount:  in.FaceCount,
		Degraded:   in.Degraded,
		CapturedAt: now.Truncate(time.Millisecond),
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, apperr.Internal(err)
	}

	res := &SnapshotResult{
		SnapshotID:     snap.ID,
		SessionID:      id,
		TotalPenalty:   sess.TotalPenalty,
		IntegrityScore: integrity(sess.TotalPenalty),
	}
	evidence := map[string]any{"snapshot_id": snap.ID}
	for k, v := range in.Evidence {
		evidence[k] = v
	}
	vr, err := s.RecordDetections(ctx, actor, id, in.Detections, evidence)
	if err != nil {
		return nil, err
	}
	if vr != nil {
		res.ViolationsCreated = len(vr.Violations)
		res.TotalPenalty = vr.TotalPenalty
		res.IntegrityScore = vr.IntegrityScore
	}
	return res, nil
}

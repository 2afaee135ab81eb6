package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
)

// ProctoringController is the client monitor's REST surface.
type ProctoringController struct {
	Svc *proctoring.Service
}

// sessionRef accepts sessionId or session_id, string or number.
type sessionRef struct {
	SessionID      FlexibleString `json:"sessionId"`
	SessionIDSnake FlexibleString `json:"session_id"`
}

func (r sessionRef) id() (string, error) {
	return sessionIDFrom(firstOf(r.SessionID, r.SessionIDSnake))
}

type consentRequest struct {
	Accepted           bool     `json:"accepted"`
	PolicyVersion      string   `json:"policyVersion"`
	PolicyVersionSnake string   `json:"policy_version"`
	NoticeLocale       string   `json:"noticeLocale"`
	NoticeLocaleSnake  string   `json:"notice_locale"`
	Scope              []string `json:"scope"`
}

type startRequest struct {
	ChallengeID      FlexibleString  `json:"challengeId"`
	ChallengeIDSnake FlexibleString  `json:"challenge_id"`
	Consent          *consentRequest `json:"consent"`
}

func (pc *ProctoringController) Start(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req startRequest
	if !bindJSON(c, &req) {
		return
	}
	in := proctoring.StartInput{
		ChallengeID: firstOf(req.ChallengeID, req.ChallengeIDSnake),
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	}
	if cr := req.Consent; cr != nil {
		in.Consent = &proctoring.ConsentInput{
			Accepted:      cr.Accepted,
			PolicyVersion: firstOf(FlexibleString(cr.PolicyVersion), FlexibleString(cr.PolicyVersionSnake)),
			NoticeLocale:  firstOf(FlexibleString(cr.NoticeLocale), FlexibleString(cr.NoticeLocaleSnake)),
			Scope:         cr.Scope,
		}
	}
	res, err := pc.Svc.StartSession(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type endRequest struct {
	sessionRef
	SubmissionID      FlexibleString `json:"submissionId"`
	SubmissionIDSnake FlexibleString `json:"submission_id"`
}

func (pc *ProctoringController) End(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req endRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	sess, err := pc.Svc.EndSession(c.Request.Context(), actor, id, firstOf(req.SubmissionID, req.SubmissionIDSnake))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session ended", "session": pc.Svc.View(sess)})
}

type pauseRequest struct {
	sessionRef
	Reason string `json:"reason"`
}

func (pc *ProctoringController) Pause(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req pauseRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	sess, err := pc.Svc.PauseSession(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session paused", "session": pc.Svc.View(sess)})
}

func (pc *ProctoringController) Resume(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req sessionRef
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	sess, err := pc.Svc.ResumeSession(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session resumed", "session": pc.Svc.View(sess)})
}

type heartbeatRequest struct {
	sessionRef
	CameraReady     bool         `json:"cameraReady"`
	MicrophoneReady bool         `json:"microphoneReady"`
	AudioReady      bool         `json:"audioReady"`
	IsPaused        bool         `json:"isPaused"`
	WindowFocused   *bool        `json:"windowFocused"`
	Timestamp       FlexibleTime `json:"timestamp"`
}

func (pc *ProctoringController) Heartbeat(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req heartbeatRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	focused := true
	if req.WindowFocused != nil {
		focused = *req.WindowFocused
	}
	res, err := pc.Svc.RecordHeartbeat(c.Request.Context(), actor, id, proctoring.Heartbeat{
		CameraReady:     req.CameraReady,
		MicrophoneReady: req.MicrophoneReady,
		AudioReady:      req.AudioReady,
		IsPaused:        req.IsPaused,
		WindowFocused:   focused,
		Timestamp:       req.Timestamp.Ptr(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type violationBody struct {
	Type          string         `json:"type"`
	ViolationType string         `json:"violation_type"`
	Severity      string         `json:"severity"`
	Description   string         `json:"description"`
	Confidence    *float64       `json:"confidence"`
	Evidence      map[string]any `json:"evidence"`
	Timestamp     FlexibleTime   `json:"timestamp"`
}

func (v violationBody) input() proctoring.ViolationInput {
	t := v.Type
	if t == "" {
		t = v.ViolationType
	}
	return proctoring.ViolationInput{
		Type:        t,
		Severity:    v.Severity,
		Description: v.Description,
		Confidence:  v.Confidence,
		Evidence:    v.Evidence,
		Timestamp:   v.Timestamp.Ptr(),
	}
}

type violationRequest struct {
	sessionRef
	violationBody
}

func (pc *ProctoringController) Violation(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req violationRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := pc.Svc.LogViolation(c.Request.Context(), actor, id, req.violationBody.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type violationBatchRequest struct {
	sessionRef
	Violations []violationBody `json:"violations"`
}

func (pc *ProctoringController) ViolationBatch(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req violationBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	in := make([]proctoring.ViolationInput, 0, len(req.Violations))
	for _, v := range req.Violations {
		in = append(in, v.input())
	}
	res, err := pc.Svc.LogMultipleViolations(c.Request.Context(), actor, id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type eventBody struct {
	EventType    string         `json:"event_type"`
	Severity     string         `json:"severity"`
	Payload      map[string]any `json:"payload"`
	Timestamp    FlexibleTime   `json:"timestamp"`
	SequenceID   *int64         `json:"sequence_id"`
	Confidence   *float64       `json:"confidence"`
	DurationMS   *int64         `json:"duration_ms"`
	ModelVersion string         `json:"model_version"`
}

type eventBatchRequest struct {
	sessionRef
	Events        []eventBody `json:"events"`
	SequenceStart *int64      `json:"sequence_start"`
}

func (pc *ProctoringController) EventBatch(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req eventBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := req.id()
	if err != nil {
		respondError(c, err)
		return
	}
	batch := make([]proctoring.EventInput, 0, len(req.Events))
	for _, e := range req.Events {
		batch = append(batch, proctoring.EventInput{
			EventType:    e.EventType,
			Severity:     e.Severity,
			Payload:      e.Payload,
			Timestamp:    e.Timestamp.Ptr(),
			SequenceID:   e.SequenceID,
			Confidence:   e.Confidence,
			DurationMS:   e.DurationMS,
			ModelVersion: e.ModelVersion,
		})
	}
	res, err := pc.Svc.IngestEventBatch(c.Request.Context(), actor, id, batch, req.SequenceStart)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type livenessRequest struct {
	ResponseAction      string `json:"responseAction"`
	ResponseActionSnake string `json:"response_action"`
}

// Liveness issues a challenge when no response_action is sent and verifies
// the outstanding one otherwise.
func (pc *ProctoringController) Liveness(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, err := sessionParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req livenessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apperr.Invalid("invalid request body"))
		return
	}
	action := firstOf(FlexibleString(req.ResponseAction), FlexibleString(req.ResponseActionSnake))
	if action == "" {
		ch, err := pc.Svc.RequestLivenessChallenge(c.Request.Context(), actor, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": ch})
		return
	}
	res, err := pc.Svc.VerifyLivenessChallenge(c.Request.Context(), actor, id, action)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (pc *ProctoringController) GetSession(c *gin.Context) {
	pc.read(c, func(actor proctoring.Actor, id string) (any, error) {
		return pc.Svc.GetSession(c.Request.Context(), actor, id)
	})
}

func (pc *ProctoringController) Status(c *gin.Context) {
	pc.read(c, func(actor proctoring.Actor, id string) (any, error) {
		return pc.Svc.GetStatus(c.Request.Context(), actor, id)
	})
}

func (pc *ProctoringController) Analytics(c *gin.Context) {
	pc.read(c, func(actor proctoring.Actor, id string) (any, error) {
		return pc.Svc.GetSessionAnalytics(c.Request.Context(), actor, id)
	})
}

func (pc *ProctoringController) Risk(c *gin.Context) {
	pc.read(c, func(actor proctoring.Actor, id string) (any, error) {
		return pc.Svc.GetSessionRisk(c.Request.Context(), actor, id)
	})
}

func (pc *ProctoringController) read(c *gin.Context, fn func(proctoring.Actor, string) (any, error)) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, err := sessionParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	out, err := fn(actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

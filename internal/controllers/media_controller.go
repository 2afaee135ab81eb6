package controllers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctoring_backend/internal/analysis"
	"github.com/zaqqye/proctoring_backend/internal/apperr"
	"github.com/zaqqye/proctoring_backend/internal/proctoring"
	"github.com/zaqqye/proctoring_backend/internal/utils"
)

// MediaController handles binary uploads: ML analysis and snapshots. Every
// payload is validated (empty, size, format) before anything else happens.
type MediaController struct {
	Svc      *proctoring.Service
	Analyzer analysis.Analyzer
}

// readPayload returns at most max+1 bytes so oversize uploads are detected
// without buffering them whole. Multipart uploads are read from field.
func readPayload(c *gin.Context, field string, max int) ([]byte, error) {
	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(field)
		if err != nil {
			fh, err = c.FormFile("file")
		}
		if err != nil {
			return nil, nil
		}
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.Internal(err)
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return nil, apperr.Invalid("could not read upload")
	}
	return data, nil
}

func toDetections(vs []analysis.Violation) []proctoring.Detection {
	out := make([]proctoring.Detection, 0, len(vs))
	for _, v := range vs {
		out = append(out, proctoring.Detection{Type: v.Type, Confidence: v.Confidence, Description: v.Description})
	}
	return out
}

type analysisResponse struct {
	*analysis.Result
	ViolationsRecorded int      `json:"violations_recorded"`
	TotalPenalty       *int     `json:"total_penalty,omitempty"`
	IntegrityScore     *float64 `json:"integrity_score,omitempty"`
}

func (mc *MediaController) AnalyzeFace(c *gin.Context) {
	mc.analyze(c, analysis.KindFace, utils.PayloadImage, utils.MaxImageBytes, utils.ImageFormats)
}

func (mc *MediaController) AnalyzeAudio(c *gin.Context) {
	mc.analyze(c, analysis.KindAudio, utils.PayloadAudio, utils.MaxAudioBytes, utils.AudioFormats)
}

func (mc *MediaController) AnalyzeObject(c *gin.Context) {
	mc.analyze(c, analysis.KindObject, utils.PayloadImage, utils.MaxImageBytes, utils.ImageFormats)
}

func (mc *MediaController) analyze(c *gin.Context, kind analysis.Kind, payload utils.PayloadKind, max int, formats []string) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	field := "image"
	if kind == analysis.KindAudio {
		field = "audio"
	}
	data, err := readPayload(c, field, max)
	if err != nil {
		respondError(c, err)
		return
	}
	mime, err := utils.ValidatePayload(data, payload, max, formats)
	if err != nil {
		respondError(c, err)
		return
	}

	rawID := c.Query("session_id")
	if rawID == "" {
		rawID = c.PostForm("session_id")
	}
	id, err := sessionIDFrom(rawID)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := mc.Svc.CheckSessionOpen(ctx, actor, id); err != nil {
		respondError(c, err)
		return
	}

	req := analysis.Request{SessionID: id, Timestamp: time.Now().UTC(), Data: data, MimeType: mime}
	if v := c.Query("duration_ms"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			req.DurationMS = n
		}
	}
	res := mc.Analyzer.Analyze(ctx, kind, req)
	out := analysisResponse{Result: res}
	if !res.Degraded && len(res.Violations) > 0 {
		evidence := map[string]any{"analysis_type": string(kind), "mime_type": mime, "sha256": utils.SHA256Hex(data)}
		vr, err := mc.Svc.RecordDetections(ctx, actor, id, toDetections(res.Violations), evidence)
		if err != nil {
			respondError(c, err)
			return
		}
		if vr != nil {
			out.ViolationsRecorded = len(vr.Violations)
			out.TotalPenalty = &vr.TotalPenalty
			out.IntegrityScore = &vr.IntegrityScore
		}
	}
	c.JSON(http.StatusOK, out)
}

// Snapshot stores a periodic webcam frame. Face and object analysis run
// concurrently; either may come back degraded without failing the upload.
func (mc *MediaController) Snapshot(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	id, err := sessionParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := readPayload(c, "image", utils.MaxSnapshotBytes)
	if err != nil {
		respondError(c, err)
		return
	}
	mime, err := utils.ValidatePayload(data, utils.PayloadImage, utils.MaxSnapshotBytes, utils.ImageFormats)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := mc.Svc.CheckSessionOpen(ctx, actor, id); err != nil {
		respondError(c, err)
		return
	}

	req := analysis.Request{SessionID: id, Timestamp: time.Now().UTC(), Data: data, MimeType: mime}
	var face, object *analysis.Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		face = mc.Analyzer.Analyze(ctx, analysis.KindFace, req)
	}()
	go func() {
		defer wg.Done()
		object = mc.Analyzer.Analyze(ctx, analysis.KindObject, req)
	}()
	wg.Wait()

	in := proctoring.SnapshotInput{
		SHA256:    utils.SHA256Hex(data),
		SizeBytes: len(data),
		MimeType:  mime,
		FaceCount: face.FaceCount(),
		Degraded:  face.Degraded || object.Degraded,
		Evidence:  map[string]any{"source": "snapshot"},
	}
	if !face.Degraded {
		in.Detections = append(in.Detections, toDetections(face.Violations)...)
	}
	if !object.Degraded {
		in.Detections = append(in.Detections, toDetections(object.Violations)...)
	}
	res, err := mc.Svc.RecordSnapshot(ctx, actor, id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"snapshot":        res,
		"degraded":        in.Degraded,
		"face_analysis":   face,
		"object_analysis": object,
	})
}

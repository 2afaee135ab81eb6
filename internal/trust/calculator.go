// Package trust turns a user's proctoring history and the grading
// collaborator's components into a single trust score.
//
// Components are 0-100. Integrity and compliance come from completed
// sessions; skill, behavior and experience come from grading and fall back
// to a neutral 50 when grading is unreachable.
package trust

import (
	"math"
	"time"

	"github.com/zaqqye/proctoring_backend/internal/models"
)

// NeutralComponent is used for any component without data.
const NeutralComponent = 50.0

// IntegrityScore is 100 minus the accumulated penalty, floored at zero.
func IntegrityScore(totalPenalty int) float64 {
	return math.Max(0, 100-float64(totalPenalty))
}

// Weights for score components (must sum to 1.0).
type Weights struct {
	Integrity  float64
	Compliance float64
	Skill      float64
	Behavior   float64
	Experience float64
}

var DefaultWeights = Weights{
	Integrity:  0.40,
	Compliance: 0.10,
	Skill:      0.30,
	Behavior:   0.10,
	Experience: 0.10,
}

// Components is the score breakdown.
type Components struct {
	Integrity  float64 `json:"integrity"`
	Compliance float64 `json:"compliance"`
	Skill      float64 `json:"skill"`
	Behavior   float64 `json:"behavior"`
	Experience float64 `json:"experience"`
}

// GradingComponents is the part supplied by the grading collaborator.
type GradingComponents struct {
	Skill      float64 `json:"skill"`
	Behavior   float64 `json:"behavior"`
	Experience float64 `json:"experience"`
}

// Neutral is the grading fallback.
func Neutral() GradingComponents {
	return GradingComponents{Skill: NeutralComponent, Behavior: NeutralComponent, Experience: NeutralComponent}
}

type Calculator struct {
	weights Weights
}

func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

func NewCalculatorWithWeights(w Weights) *Calculator {
	return &Calculator{weights: w}
}

// SessionComponents averages integrity and device compliance over
// completed sessions. With no sessions both are 100.
func SessionComponents(sessions []models.ProctoringSession) (integrity, compliance float64) {
	if len(sessions) == 0 {
		return 100, 100
	}
	for i := range sessions {
		s := &sessions[i]
		integrity += IntegrityScore(s.TotalPenalty)
		compliance += sessionCompliance(s)
	}
	n := float64(len(sessions))
	return integrity / n, compliance / n
}

// sessionCompliance drops with the share of time spent paused and with
// each pause: 100 * (1 - paused/elapsed) - 5 per pause.
func sessionCompliance(s *models.ProctoringSession) float64 {
	end := s.DeadlineAt
	if s.EndTime != nil {
		end = *s.EndTime
	}
	elapsed := end.Sub(s.StartTime).Seconds()
	score := 100.0
	if elapsed > 0 {
		paused := math.Min(float64(s.TotalPausedSeconds), elapsed)
		score = 100 * (1 - paused/elapsed)
	}
	score -= 5 * float64(s.PauseCount)
	return clamp(score)
}

// Calculate builds the score for userID. It does not touch storage.
func (c *Calculator) Calculate(userID string, sessions []models.ProctoringSession, grading GradingComponents, degraded bool, at time.Time) *models.TrustScore {
	integrity, compliance := SessionComponents(sessions)
	comp := Components{
		Integrity:  round1(integrity),
		Compliance: round1(compliance),
		Skill:      round1(clamp(grading.Skill)),
		Behavior:   round1(clamp(grading.Behavior)),
		Experience: round1(clamp(grading.Experience)),
	}
	total := c.weights.Integrity*comp.Integrity +
		c.weights.Compliance*comp.Compliance +
		c.weights.Skill*comp.Skill +
		c.weights.Behavior*comp.Behavior +
		c.weights.Experience*comp.Experience
	total = round1(clamp(total))

	return &models.TrustScore{
		UserID:             userID,
		TotalScore:         total,
		TrustLevel:         Level(total),
		IntegrityScore:     comp.Integrity,
		ComplianceScore:    comp.Compliance,
		SkillScore:         comp.Skill,
		BehaviorScore:      comp.Behavior,
		ExperienceScore:    comp.Experience,
		SessionsConsidered: len(sessions),
		Degraded:           degraded,
		ComputedAt:         at,
	}
}

// Level buckets a total score.
func Level(score float64) string {
	switch {
	case score >= 75:
		return models.TrustHigh
	case score >= 50:
		return models.TrustMedium
	default:
		return models.TrustLow
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

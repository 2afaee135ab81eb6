package models

import "time"

// Trust level values.
const (
	TrustLow    = "Low"
	TrustMedium = "Medium"
	TrustHigh   = "High"
)

// TrustScore is the latest aggregate for a user, consumed by grading.
type TrustScore struct {
	UserID             string    `gorm:"primaryKey;size:64" json:"user_id"`
	TotalScore         float64   `json:"total_score"`
	TrustLevel         string    `gorm:"size:16" json:"trust_level"`
	IntegrityScore     float64   `json:"integrity_score"`
	ComplianceScore    float64   `json:"compliance_score"`
	SkillScore         float64   `json:"skill_score"`
	BehaviorScore      float64   `json:"behavior_score"`
	ExperienceScore    float64   `json:"experience_score"`
	SessionsConsidered int       `json:"sessions_considered"`
	Degraded           bool      `json:"degraded"`
	ComputedAt         time.Time `json:"computed_at"`
	CreatedAt          time.Time `json:"-"`
	UpdatedAt          time.Time `json:"-"`
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// GlobalSettingsScope is the Scope of the row every user inherits from.
const GlobalSettingsScope = "global"

// ProctoringSettings stores policy overrides. Scope is either
// GlobalSettingsScope or a user id.
type ProctoringSettings struct {
	Scope                   string                      `gorm:"size:64;primaryKey"`
	RequiredDevices         datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	HeartbeatTimeoutSeconds int
	ConsentRequired         bool
	SessionDurationMinutes  int
	UpdatedBy               string `gorm:"size:64"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

package db

import (
	"time"
)

// Session is the persisted credential row. Only one row (ID 1) ever exists.
type Session struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UserJSON     string    `json:"user,omitempty"` // raw profile as returned by the auth endpoints
	UpdatedAt    time.Time `json:"updated_at"`
}

// Setting is a small key/value row for client preferences such as the
// last selected workspace.
type Setting struct {
	Name  string `gorm:"primaryKey" json:"name"`
	Value string `json:"value"`
}

// SettingLastWorkspace keys the identifier of the last selected workspace.
const SettingLastWorkspace = "last_workspace_id"

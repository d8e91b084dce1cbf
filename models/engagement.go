package models

import (
	"gorm.io/gorm"
)

// Engagement represents a client project grouping campaigns, calls and reps
type Engagement struct {
	gorm.Model
	WorkspaceID uint `gorm:"not null;index" json:"workspace_id"`

	Name       string `gorm:"not null" json:"name"`
	ClientName string `json:"client_name"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Campaigns []Campaign     `gorm:"foreignKey:EngagementID" json:"campaigns,omitempty"`
	Contacts  []Contact      `gorm:"foreignKey:EngagementID" json:"contacts,omitempty"`
	Calls     []CallActivity `gorm:"foreignKey:EngagementID" json:"calls,omitempty"`
}

// Contact represents a prospect synced from an external platform
type Contact struct {
	gorm.Model
	EngagementID uint `gorm:"not null;index" json:"engagement_id"`
	SourceID     uint `gorm:"index:idx_contact_source_external,unique" json:"source_id"`

	ExternalID string `gorm:"index:idx_contact_source_external,unique" json:"external_id"`
	Email      string `gorm:"not null;index" json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Company    string `json:"company"`
	Title      string `json:"title"`
	Phone      string `json:"phone"`

	// Relations
	Engagement Engagement `json:"-"`
}

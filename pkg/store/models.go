package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID                      string `gorm:"primaryKey"`
	Name                    string
	Email                   string `gorm:"uniqueIndex;not null"`
	PasswordHash            string
	Role                    string `gorm:"not null"`
	Status                  string
	EmailConfirmed          bool
	HasSeenWelcome          bool
	HasScheduledInitialChat bool
	HasCompletedAnamnesis   bool
	IsApproved              bool
	LastNewsSeenAt          time.Time
	MealPlan                string         `gorm:"type:text"`
	ShoppingList            datatypes.JSON `gorm:"type:jsonb"`
	Anamnesis               datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt               time.Time      `gorm:"not null"`
	UpdatedAt               time.Time
}

type MessageModel struct {
	ID         string    `gorm:"primaryKey"`
	SenderID   string    `gorm:"not null;index"`
	ReceiverID string    `gorm:"not null;index"`
	Content    string    `gorm:"type:text;not null"`
	IsRead     bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

type AppSettingModel struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

type MaterialModel struct {
	ID         string `gorm:"primaryKey"`
	Title      string `gorm:"not null"`
	URL        string
	StorageKey string
	CreatedAt  time.Time `gorm:"not null"`
}

type ProfileMaterialModel struct {
	ProfileID  string    `gorm:"primaryKey"`
	MaterialID string    `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"not null"`
}

type NewsPostModel struct {
	ID        string    `gorm:"primaryKey"`
	Title     string    `gorm:"not null"`
	Body      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

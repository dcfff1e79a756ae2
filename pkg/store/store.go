package store

import (
	"errors"
	"time"

	"nutriflow/pkg/domain"
)

// ErrSessionExpired marks credentials that are no longer valid and require a
// fresh sign-in, as opposed to transient lookup failures.
var ErrSessionExpired = errors.New("session expired")

// Store defines persistence operations for profiles, messages, settings,
// materials, and news.
type Store interface {
	// profiles
	SaveProfile(domain.Profile) error
	HasProfileEmail(email string) (bool, error)
	GetProfileByEmail(email string) (domain.Profile, bool, error)
	GetProfileByID(id string) (domain.Profile, bool, error)
	ListProfiles() ([]domain.Profile, error)
	ProfileCount() (int, error)

	// onboarding flag writes; each sets its flag true and never clears it
	MarkWelcomeSeen(id string) error
	MarkSchedulingConfirmed(id string) error
	MarkAnamnesisCompleted(id string, answers map[string]string) error
	SetApproved(id string, approved bool) error
	SetLastNewsSeen(id string, at time.Time) error

	// profile content
	SetMealPlan(id string, plan string) error
	SetShoppingList(id string, items []domain.ShoppingItem) error

	// messages
	AppendMessage(domain.Message) error
	ListConversation(userA, userB string) ([]domain.Message, error)
	UnreadBySender(receiverID string) ([]domain.UnreadGroup, error)
	MarkMessagesRead(ids []string) error

	// settings
	GetSetting(key string) (domain.AppSetting, bool, error)
	SetSetting(key, value string) error
	ListSettings() ([]domain.AppSetting, error)

	// materials
	SaveMaterial(domain.Material) error
	GetMaterial(id string) (domain.Material, bool, error)
	ListMaterials() ([]domain.Material, error)
	ListMaterialsForProfile(profileID string) ([]domain.Material, error)
	AssignMaterial(profileID, materialID string) error
	UnassignMaterial(profileID, materialID string) error

	// news
	SaveNewsPost(domain.NewsPost) error
	ListNews(limit int) ([]domain.NewsPost, error)
	LatestNewsAt() (time.Time, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

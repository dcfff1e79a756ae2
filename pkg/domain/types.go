package domain

import "time"

type UserRole string

const (
	RolePatient UserRole = "patient"
	RoleAdmin   UserRole = "admin"
)

type ProfileStatus string

const (
	StatusActive   ProfileStatus = "active"
	StatusDisabled ProfileStatus = "disabled"
)

// Profile is the persisted patient record driving onboarding and content
// display. Onboarding flags are monotonic: once set they are never cleared by
// patient actions. Only an admin may reset IsApproved.
type Profile struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	Email                   string            `json:"email"`
	PasswordHash            string            `json:"-"`
	Role                    UserRole          `json:"role"`
	Status                  ProfileStatus     `json:"status"`
	EmailConfirmed          bool              `json:"emailConfirmed"`
	HasSeenWelcome          bool              `json:"hasSeenWelcome"`
	HasScheduledInitialChat bool              `json:"hasScheduledInitialChat"`
	HasCompletedAnamnesis   bool              `json:"hasCompletedAnamnesis"`
	IsApproved              bool              `json:"isApproved"`
	LastNewsSeenAt          time.Time         `json:"lastNewsSeenAt"`
	MealPlan                string            `json:"mealPlan"`
	ShoppingList            []ShoppingItem    `json:"shoppingList"`
	Anamnesis               map[string]string `json:"anamnesis,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

// ShoppingItem is one canonical shopping-list entry. Legacy lists stored as
// plain strings are normalized into this shape at the storage boundary.
type ShoppingItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Message is immutable once created except for IsRead.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UnreadGroup summarizes unread messages from one sender, for the admin inbox.
type UnreadGroup struct {
	SenderID   string   `json:"senderId"`
	SenderName string   `json:"senderName"`
	Count      int      `json:"count"`
	MessageIDs []string `json:"messageIds"`
}

// Material is admin-authored content attached to profiles.
type Material struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AppSetting is a globally shared key-value row (e.g. welcome_video_url).
type AppSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewsPost is an admin announcement; the newest post drives the news gate.
type NewsPost struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is the authenticated identity paired with its opaque token.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

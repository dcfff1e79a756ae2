package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"nutriflow/internal/ratelimit"
	"nutriflow/internal/util"
	"nutriflow/pkg/auth"
	"nutriflow/pkg/chat"
	"nutriflow/pkg/domain"
	"nutriflow/pkg/flow"
	"nutriflow/pkg/notify"
	"nutriflow/pkg/session"
	"nutriflow/pkg/storage"
	"nutriflow/pkg/store"
)

// App is the profile resolver behind session.Manager instances embedded in
// client frontends.
var _ session.Resolver = (*App)(nil)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	SessionTTL              time.Duration
	JWTSecret               string
	JWTIssuer               string
	JWTAudience             string
	JWTLeeway               time.Duration
	LoginRateLimitPerMinute int
	PresignTTL              time.Duration
	Store                   store.Store
	Sessions                store.SessionStore
	Chat                    *chat.Channel
	Notifier                notify.Publisher
	Objects                 storage.ObjectStore
	LoginLimiter            *ratelimit.FixedWindowLimiter
}

// App is the core application service wiring storage, sessions, messaging,
// and notifications together.
type App struct {
	store        store.Store
	sessions     store.SessionStore
	chat         *chat.Channel
	notifier     notify.Publisher
	objects      storage.ObjectStore
	loginLimiter *ratelimit.FixedWindowLimiter
	presignTTL   time.Duration
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return nil, fmt.Errorf("jwtSecret is required")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for jwt+redis session strategy")
		}
		revoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	channel := cfg.Chat
	if channel == nil {
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redisAddr is required for the message feed")
		}
		var err error
		channel, err = chat.NewChannel(dataStore, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("init message channel: %w", err)
		}
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NopPublisher{}
	}

	loginLimiter := cfg.LoginLimiter
	if loginLimiter == nil && cfg.LoginRateLimitPerMinute > 0 {
		var err error
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "nutriflow:ratelimit:login",
			cfg.LoginRateLimitPerMinute, time.Minute,
		)
		if err != nil {
			return nil, fmt.Errorf("init login rate limiter: %w", err)
		}
	}

	return &App{
		store:        dataStore,
		sessions:     sessionStore,
		chat:         channel,
		notifier:     notifier,
		objects:      cfg.Objects,
		loginLimiter: loginLimiter,
		presignTTL:   cfg.PresignTTL,
	}, nil
}

// SignUp registers a new profile. The first profile becomes the admin and is
// confirmed immediately; patients must confirm their email before signing in.
func (a *App) SignUp(name, email, password string) (domain.Profile, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.Profile{}, ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Profile{}, err
	}
	exists, err := a.store.HasProfileEmail(email)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Profile{}, ErrEmailAlreadyExists
	}
	count, err := a.store.ProfileCount()
	if err != nil {
		return domain.Profile{}, fmt.Errorf("count profiles: %w", err)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	profile := domain.Profile{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RolePatient,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if count == 0 {
		profile.Role = domain.RoleAdmin
		profile.EmailConfirmed = true
	}
	if err := a.store.SaveProfile(profile); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// SignIn validates credentials and issues a session token. clientKey scopes
// the rate limit, typically to the caller's IP.
func (a *App) SignIn(email, password, clientKey string) (domain.Profile, string, error) {
	if a.loginLimiter != nil && !a.loginLimiter.Allow("signin:"+clientKey) {
		return domain.Profile{}, "", ErrRateLimited
	}
	email = strings.TrimSpace(strings.ToLower(email))
	profile, ok, err := a.store.GetProfileByEmail(email)
	if err != nil {
		return domain.Profile{}, "", fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, profile.PasswordHash) {
		return domain.Profile{}, "", ErrInvalidCredentials
	}
	if profile.Status == domain.StatusDisabled {
		return domain.Profile{}, "", ErrAccountDisabled
	}
	if !profile.EmailConfirmed {
		return domain.Profile{}, "", ErrEmailNotConfirmed
	}
	token, err := a.sessions.NewSession(profile.ID)
	if err != nil {
		return domain.Profile{}, "", fmt.Errorf("issue session: %w", err)
	}
	return profile, token, nil
}

// SignOut invalidates the session token.
func (a *App) SignOut(token string) error {
	return a.sessions.DeleteSession(token)
}

// ProfileFromToken resolves the profile for a session token.
func (a *App) ProfileFromToken(token string) (domain.Profile, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.Profile{}, false
	}
	profile, found, err := a.store.GetProfileByID(uid)
	if err != nil || !found {
		return domain.Profile{}, false
	}
	if profile.Status == domain.StatusDisabled {
		return domain.Profile{}, false
	}
	return profile, true
}

// ResolveProfile fetches the profile for a session identity. A missing or
// disabled profile means the stored credential is no longer usable, which is
// reported as store.ErrSessionExpired; other errors are transient.
func (a *App) ResolveProfile(ctx context.Context, userID string) (domain.Profile, error) {
	profile, found, err := a.store.GetProfileByID(userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !found || profile.Status == domain.StatusDisabled {
		return domain.Profile{}, store.ErrSessionExpired
	}
	return profile, nil
}

// ConfirmEmail marks a profile's email as confirmed.
func (a *App) ConfirmEmail(profileID string) (domain.Profile, error) {
	profile, found, err := a.store.GetProfileByID(profileID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !found {
		return domain.Profile{}, ErrProfileNotFound
	}
	if profile.EmailConfirmed {
		return profile, nil
	}
	profile.EmailConfirmed = true
	profile.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveProfile(profile); err != nil {
		return domain.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return profile, nil
}

// Stage derives the onboarding stage for a profile snapshot.
func (a *App) Stage(p domain.Profile) (flow.Stage, error) {
	latest, err := a.store.LatestNewsAt()
	if err != nil {
		return "", fmt.Errorf("fetch latest news: %w", err)
	}
	return flow.StageFor(p, latest), nil
}

// MarkWelcomeSeen records that the profile finished the welcome screen. The
// flag is persisted before the refreshed profile is returned, so a re-derived
// stage can never fall back to the welcome screen.
func (a *App) MarkWelcomeSeen(userID string) (domain.Profile, error) {
	if err := a.store.MarkWelcomeSeen(userID); err != nil {
		return domain.Profile{}, fmt.Errorf("mark welcome seen: %w", err)
	}
	return a.reload(userID)
}

// ConfirmScheduling records that the profile booked the initial consultation.
func (a *App) ConfirmScheduling(userID string) (domain.Profile, error) {
	if err := a.store.MarkSchedulingConfirmed(userID); err != nil {
		return domain.Profile{}, fmt.Errorf("confirm scheduling: %w", err)
	}
	return a.reload(userID)
}

// SubmitAnamnesis stores the questionnaire answers and marks it completed.
func (a *App) SubmitAnamnesis(userID string, answers map[string]string) (domain.Profile, error) {
	if len(answers) == 0 {
		return domain.Profile{}, ErrAnswersRequired
	}
	if err := a.store.MarkAnamnesisCompleted(userID, answers); err != nil {
		return domain.Profile{}, fmt.Errorf("submit anamnesis: %w", err)
	}
	return a.reload(userID)
}

// DismissNews records that the profile has seen the newest news post.
func (a *App) DismissNews(userID string) (domain.Profile, error) {
	if err := a.store.SetLastNewsSeen(userID, time.Now().UTC()); err != nil {
		return domain.Profile{}, fmt.Errorf("dismiss news: %w", err)
	}
	return a.reload(userID)
}

// ListProfiles returns all profiles (admin use only).
func (a *App) ListProfiles() ([]domain.Profile, error) {
	return a.store.ListProfiles()
}

// GetProfile fetches one profile by ID.
func (a *App) GetProfile(id string) (domain.Profile, error) {
	profile, found, err := a.store.GetProfileByID(id)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !found {
		return domain.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

// SetApproval grants or revokes a patient's approval. Granting publishes a
// notification event; revoking is silent.
func (a *App) SetApproval(patientID string, approved bool) (domain.Profile, error) {
	profile, found, err := a.store.GetProfileByID(patientID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !found {
		return domain.Profile{}, ErrProfileNotFound
	}
	if profile.Role != domain.RolePatient {
		return domain.Profile{}, ErrForbidden
	}
	if err := a.store.SetApproved(patientID, approved); err != nil {
		return domain.Profile{}, fmt.Errorf("set approval: %w", err)
	}
	if approved {
		a.publishEvent(notify.Event{Type: notify.EventApprovalGranted, UserID: patientID})
	}
	return a.reload(patientID)
}

// SetMealPlan replaces a patient's meal plan text.
func (a *App) SetMealPlan(patientID, plan string) (domain.Profile, error) {
	if err := a.store.SetMealPlan(patientID, plan); err != nil {
		return domain.Profile{}, fmt.Errorf("set meal plan: %w", err)
	}
	return a.reload(patientID)
}

// AddShoppingItem appends one unchecked item and persists the whole list.
func (a *App) AddShoppingItem(userID, text string) ([]domain.ShoppingItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrItemTextRequired
	}
	profile, err := a.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	items := append(profile.ShoppingList, domain.ShoppingItem{
		ID:   uuid.NewString(),
		Text: text,
	})
	if err := a.store.SetShoppingList(userID, items); err != nil {
		return a.authoritativeList(userID, err)
	}
	return items, nil
}

// ToggleShoppingItem flips one item's checked state and persists the whole
// list. On a write failure the caller gets the authoritative stored list back
// so its view never drifts from what is persisted.
func (a *App) ToggleShoppingItem(userID, itemID string) ([]domain.ShoppingItem, error) {
	profile, err := a.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.ShoppingItem, len(profile.ShoppingList))
	copy(items, profile.ShoppingList)
	found := false
	for i := range items {
		if items[i].ID == itemID {
			items[i].Checked = !items[i].Checked
			found = true
			break
		}
	}
	if !found {
		return nil, ErrItemNotFound
	}
	if err := a.store.SetShoppingList(userID, items); err != nil {
		return a.authoritativeList(userID, err)
	}
	return items, nil
}

// RemoveShoppingItem deletes one item and persists the whole list.
func (a *App) RemoveShoppingItem(userID, itemID string) ([]domain.ShoppingItem, error) {
	profile, err := a.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.ShoppingItem, 0, len(profile.ShoppingList))
	found := false
	for _, it := range profile.ShoppingList {
		if it.ID == itemID {
			found = true
			continue
		}
		items = append(items, it)
	}
	if !found {
		return nil, ErrItemNotFound
	}
	if err := a.store.SetShoppingList(userID, items); err != nil {
		return a.authoritativeList(userID, err)
	}
	return items, nil
}

func (a *App) authoritativeList(userID string, cause error) ([]domain.ShoppingItem, error) {
	stored, found, err := a.store.GetProfileByID(userID)
	if err != nil || !found {
		return nil, fmt.Errorf("update shopping list: %w", cause)
	}
	return stored.ShoppingList, fmt.Errorf("update shopping list: %w", cause)
}

// CreateMaterialLink registers an external material URL.
func (a *App) CreateMaterialLink(title, url string) (domain.Material, error) {
	title = strings.TrimSpace(title)
	url = strings.TrimSpace(url)
	if title == "" || url == "" {
		return domain.Material{}, ErrMaterialFieldsRequired
	}
	material := domain.Material{
		ID:        util.NewID(),
		Title:     title,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveMaterial(material); err != nil {
		return domain.Material{}, fmt.Errorf("save material: %w", err)
	}
	return material, nil
}

// UploadMaterial stores a material file in object storage and registers it.
func (a *App) UploadMaterial(ctx context.Context, title string, r io.Reader, size int64, contentType string) (domain.Material, error) {
	if a.objects == nil {
		return domain.Material{}, ErrObjectStorageDisabled
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Material{}, ErrMaterialFieldsRequired
	}
	id := util.NewID()
	key := "materials/" + id
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Material{}, fmt.Errorf("upload material: %w", err)
	}
	material := domain.Material{
		ID:         id,
		Title:      title,
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveMaterial(material); err != nil {
		return domain.Material{}, fmt.Errorf("save material: %w", err)
	}
	return material, nil
}

// ListMaterials returns all materials with download URLs resolved.
func (a *App) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	materials, err := a.store.ListMaterials()
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return a.resolveMaterialURLs(ctx, materials), nil
}

// MaterialsForProfile returns the materials assigned to one profile with
// download URLs resolved.
func (a *App) MaterialsForProfile(ctx context.Context, profileID string) ([]domain.Material, error) {
	materials, err := a.store.ListMaterialsForProfile(profileID)
	if err != nil {
		return nil, fmt.Errorf("list profile materials: %w", err)
	}
	return a.resolveMaterialURLs(ctx, materials), nil
}

// AssignMaterial attaches a material to a profile. Both sides must exist so
// assignments can never dangle.
func (a *App) AssignMaterial(profileID, materialID string) error {
	if _, err := a.GetProfile(profileID); err != nil {
		return err
	}
	_, found, err := a.store.GetMaterial(materialID)
	if err != nil {
		return fmt.Errorf("fetch material: %w", err)
	}
	if !found {
		return ErrMaterialNotFound
	}
	return a.store.AssignMaterial(profileID, materialID)
}

// UnassignMaterial detaches a material from a profile.
func (a *App) UnassignMaterial(profileID, materialID string) error {
	return a.store.UnassignMaterial(profileID, materialID)
}

func (a *App) resolveMaterialURLs(ctx context.Context, materials []domain.Material) []domain.Material {
	if a.objects == nil {
		return materials
	}
	for i := range materials {
		if materials[i].StorageKey == "" {
			continue
		}
		url, err := a.objects.PresignGet(ctx, materials[i].StorageKey, a.presignTTL)
		if err != nil {
			slog.Warn("presign material failed", "material_id", materials[i].ID, "err", err)
			continue
		}
		materials[i].URL = url
	}
	return materials
}

// Setting fetches one shared app setting.
func (a *App) Setting(key string) (domain.AppSetting, bool, error) {
	return a.store.GetSetting(key)
}

// SetSetting writes one shared app setting.
func (a *App) SetSetting(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrSettingKeyRequired
	}
	return a.store.SetSetting(key, value)
}

// ListSettings returns all shared app settings.
func (a *App) ListSettings() ([]domain.AppSetting, error) {
	return a.store.ListSettings()
}

// PublishNews creates a news post. Every patient will pass through the news
// gate until they dismiss it.
func (a *App) PublishNews(title, body string) (domain.NewsPost, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.NewsPost{}, ErrNewsTitleRequired
	}
	post := domain.NewsPost{
		ID:        util.NewID(),
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveNewsPost(post); err != nil {
		return domain.NewsPost{}, fmt.Errorf("save news post: %w", err)
	}
	a.publishEvent(notify.Event{Type: notify.EventNewsPublished, SubjectID: post.ID})
	return post, nil
}

// ListNews returns the newest posts first.
func (a *App) ListNews(limit int) ([]domain.NewsPost, error) {
	return a.store.ListNews(limit)
}

// AdminProfile returns the admin profile patients converse with.
func (a *App) AdminProfile() (domain.Profile, error) {
	profiles, err := a.store.ListProfiles()
	if err != nil {
		return domain.Profile{}, fmt.Errorf("list profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Role == domain.RoleAdmin {
			return p, nil
		}
	}
	return domain.Profile{}, ErrNoAdminProfile
}

// SendMessage persists and fans out one chat message, then emits a
// best-effort notification event for the receiver.
func (a *App) SendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	msg, err := a.chat.Send(ctx, senderID, receiverID, content)
	if err != nil {
		return domain.Message{}, err
	}
	a.publishEvent(notify.Event{Type: notify.EventMessageReceived, UserID: receiverID, SubjectID: msg.ID})
	return msg, nil
}

// Conversation returns the full message history between two users, oldest
// first.
func (a *App) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	return a.chat.History(ctx, userA, userB)
}

// SubscribeConversation opens a realtime feed for one conversation.
func (a *App) SubscribeConversation(ctx context.Context, userA, userB string) (*chat.Subscription, error) {
	return a.chat.Subscribe(ctx, userA, userB)
}

// UnreadInbox returns unread messages for a receiver grouped by sender.
func (a *App) UnreadInbox(ctx context.Context, receiverID string) ([]domain.UnreadGroup, error) {
	return a.chat.Unread(ctx, receiverID)
}

// MarkMessagesRead flips the read flag on the given messages.
func (a *App) MarkMessagesRead(ctx context.Context, ids []string) error {
	return a.chat.MarkRead(ctx, ids)
}

func (a *App) reload(userID string) (domain.Profile, error) {
	profile, found, err := a.store.GetProfileByID(userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("reload profile: %w", err)
	}
	if !found {
		return domain.Profile{}, ErrProfileNotFound
	}
	return profile, nil
}

func (a *App) publishEvent(ev notify.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.notifier.Publish(ctx, ev); err != nil {
		slog.Warn("notification publish failed", "type", ev.Type, "err", err)
	}
}

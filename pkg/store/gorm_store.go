package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"nutriflow/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProfileModel{},
			&MessageModel{},
			&AppSettingModel{},
			&MaterialModel{},
			&ProfileMaterialModel{},
			&NewsPostModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProfile registers or updates a profile.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model, err := profileToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "password_hash", "role", "status", "email_confirmed",
			"has_seen_welcome", "has_scheduled_initial_chat", "has_completed_anamnesis",
			"is_approved", "last_news_seen_at", "meal_plan", "shopping_list",
			"anamnesis", "updated_at",
		}),
	}).Create(&model).Error
}

// HasProfileEmail checks if email exists.
func (s *GormStore) HasProfileEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&ProfileModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetProfileByEmail looks up a profile by email.
func (s *GormStore) GetProfileByEmail(email string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	profile, err := profileFromModel(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return profile, true, nil
}

// GetProfileByID returns a profile by ID.
func (s *GormStore) GetProfileByID(id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	profile, err := profileFromModel(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return profile, true, nil
}

// ListProfiles returns all profiles ordered by created_at.
func (s *GormStore) ListProfiles() ([]domain.Profile, error) {
	var models []ProfileModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Profile, 0, len(models))
	for _, m := range models {
		profile, err := profileFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, profile)
	}
	return res, nil
}

// ProfileCount returns number of profiles.
func (s *GormStore) ProfileCount() (int, error) {
	var count int64
	if err := s.db.Model(&ProfileModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// MarkWelcomeSeen sets has_seen_welcome. The flag is only ever raised.
func (s *GormStore) MarkWelcomeSeen(id string) error {
	return s.setProfileColumns(id, map[string]any{"has_seen_welcome": true})
}

// MarkSchedulingConfirmed sets has_scheduled_initial_chat.
func (s *GormStore) MarkSchedulingConfirmed(id string) error {
	return s.setProfileColumns(id, map[string]any{"has_scheduled_initial_chat": true})
}

// MarkAnamnesisCompleted stores intake answers and sets has_completed_anamnesis.
func (s *GormStore) MarkAnamnesisCompleted(id string, answers map[string]string) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode anamnesis: %w", err)
	}
	return s.setProfileColumns(id, map[string]any{
		"has_completed_anamnesis": true,
		"anamnesis":               raw,
	})
}

// SetApproved updates approval. Admin action only; this is the one flag an
// admin may also clear.
func (s *GormStore) SetApproved(id string, approved bool) error {
	return s.setProfileColumns(id, map[string]any{"is_approved": approved})
}

// SetLastNewsSeen records the news dismissal timestamp.
func (s *GormStore) SetLastNewsSeen(id string, at time.Time) error {
	return s.setProfileColumns(id, map[string]any{"last_news_seen_at": at.UTC()})
}

// SetMealPlan replaces the meal plan text.
func (s *GormStore) SetMealPlan(id string, plan string) error {
	return s.setProfileColumns(id, map[string]any{"meal_plan": plan})
}

// SetShoppingList replaces the entire list in canonical encoding.
func (s *GormStore) SetShoppingList(id string, items []domain.ShoppingItem) error {
	raw, err := EncodeShoppingList(items)
	if err != nil {
		return err
	}
	return s.setProfileColumns(id, map[string]any{"shopping_list": raw})
}

func (s *GormStore) setProfileColumns(id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&ProfileModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile %s not found", id)
	}
	return nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListConversation returns the full history between two users sorted
// ascending by creation time, regardless of direction.
func (s *GormStore) ListConversation(userA, userB string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// UnreadBySender groups unread messages for a receiver by sender.
func (s *GormStore) UnreadBySender(receiverID string) ([]domain.UnreadGroup, error) {
	var models []MessageModel
	if err := s.db.
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	order := make([]string, 0)
	groups := make(map[string]*domain.UnreadGroup)
	for _, m := range models {
		g, ok := groups[m.SenderID]
		if !ok {
			g = &domain.UnreadGroup{SenderID: m.SenderID}
			groups[m.SenderID] = g
			order = append(order, m.SenderID)
		}
		g.Count++
		g.MessageIDs = append(g.MessageIDs, m.ID)
	}
	if len(order) > 0 {
		var senders []ProfileModel
		if err := s.db.Where("id IN ?", order).Find(&senders).Error; err != nil {
			return nil, err
		}
		names := make(map[string]string, len(senders))
		for _, p := range senders {
			names[p.ID] = p.Name
		}
		for id, g := range groups {
			g.SenderName = names[id]
		}
	}
	res := make([]domain.UnreadGroup, 0, len(order))
	for _, id := range order {
		res = append(res, *groups[id])
	}
	return res, nil
}

// MarkMessagesRead flips is_read for the given IDs.
func (s *GormStore) MarkMessagesRead(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&MessageModel{}).
		Where("id IN ?", ids).
		Update("is_read", true).Error
}

// GetSetting returns one app setting by key.
func (s *GormStore) GetSetting(key string) (domain.AppSetting, bool, error) {
	var model AppSettingModel
	if err := s.db.First(&model, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AppSetting{}, false, nil
		}
		return domain.AppSetting{}, false, err
	}
	return settingFromModel(model), true, nil
}

// SetSetting upserts an app setting.
func (s *GormStore) SetSetting(key, value string) error {
	model := AppSettingModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

// ListSettings returns all app settings.
func (s *GormStore) ListSettings() ([]domain.AppSetting, error) {
	var models []AppSettingModel
	if err := s.db.Order("key ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AppSetting, 0, len(models))
	for _, m := range models {
		res = append(res, settingFromModel(m))
	}
	return res, nil
}

// SaveMaterial stores or updates a material.
func (s *GormStore) SaveMaterial(m domain.Material) error {
	model := materialToModel(m)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "url", "storage_key"}),
	}).Create(&model).Error
}

// GetMaterial returns one material by ID.
func (s *GormStore) GetMaterial(id string) (domain.Material, bool, error) {
	var model MaterialModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Material{}, false, nil
		}
		return domain.Material{}, false, err
	}
	return materialFromModel(model), true, nil
}

// ListMaterials returns all materials ordered by created_at.
func (s *GormStore) ListMaterials() ([]domain.Material, error) {
	var models []MaterialModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Material, 0, len(models))
	for _, m := range models {
		res = append(res, materialFromModel(m))
	}
	return res, nil
}

// ListMaterialsForProfile returns materials assigned to a profile via the
// join table, in assignment order.
func (s *GormStore) ListMaterialsForProfile(profileID string) ([]domain.Material, error) {
	var models []MaterialModel
	if err := s.db.
		Joins("JOIN profile_material_models pm ON pm.material_id = material_models.id").
		Where("pm.profile_id = ?", profileID).
		Order("pm.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Material, 0, len(models))
	for _, m := range models {
		res = append(res, materialFromModel(m))
	}
	return res, nil
}

// AssignMaterial links a material to a profile.
func (s *GormStore) AssignMaterial(profileID, materialID string) error {
	model := ProfileMaterialModel{
		ProfileID:  profileID,
		MaterialID: materialID,
		CreatedAt:  time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// UnassignMaterial removes the link.
func (s *GormStore) UnassignMaterial(profileID, materialID string) error {
	return s.db.Delete(&ProfileMaterialModel{},
		"profile_id = ? AND material_id = ?", profileID, materialID).Error
}

// SaveNewsPost stores a news post.
func (s *GormStore) SaveNewsPost(n domain.NewsPost) error {
	model := newsToModel(n)
	return s.db.Create(&model).Error
}

// ListNews returns newest posts first.
func (s *GormStore) ListNews(limit int) ([]domain.NewsPost, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []NewsPostModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.NewsPost, 0, len(models))
	for _, m := range models {
		res = append(res, newsFromModel(m))
	}
	return res, nil
}

// LatestNewsAt returns the newest post's creation time, or zero when none.
func (s *GormStore) LatestNewsAt() (time.Time, error) {
	var model NewsPostModel
	if err := s.db.Order("created_at DESC").First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return model.CreatedAt, nil
}

func profileToModel(p domain.Profile) (ProfileModel, error) {
	shopping, err := EncodeShoppingList(p.ShoppingList)
	if err != nil {
		return ProfileModel{}, err
	}
	anamnesis, err := json.Marshal(p.Anamnesis)
	if err != nil {
		return ProfileModel{}, fmt.Errorf("encode anamnesis: %w", err)
	}
	return ProfileModel{
		ID:                      p.ID,
		Name:                    p.Name,
		Email:                   p.Email,
		PasswordHash:            p.PasswordHash,
		Role:                    string(p.Role),
		Status:                  string(p.Status),
		EmailConfirmed:          p.EmailConfirmed,
		HasSeenWelcome:          p.HasSeenWelcome,
		HasScheduledInitialChat: p.HasScheduledInitialChat,
		HasCompletedAnamnesis:   p.HasCompletedAnamnesis,
		IsApproved:              p.IsApproved,
		LastNewsSeenAt:          p.LastNewsSeenAt,
		MealPlan:                p.MealPlan,
		ShoppingList:            shopping,
		Anamnesis:               anamnesis,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
	}, nil
}

func profileFromModel(m ProfileModel) (domain.Profile, error) {
	shopping, err := DecodeShoppingList(m.ShoppingList)
	if err != nil {
		return domain.Profile{}, err
	}
	var anamnesis map[string]string
	if len(m.Anamnesis) > 0 {
		_ = json.Unmarshal(m.Anamnesis, &anamnesis)
	}
	status := domain.ProfileStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.Profile{
		ID:                      m.ID,
		Name:                    m.Name,
		Email:                   m.Email,
		PasswordHash:            m.PasswordHash,
		Role:                    domain.UserRole(m.Role),
		Status:                  status,
		EmailConfirmed:          m.EmailConfirmed,
		HasSeenWelcome:          m.HasSeenWelcome,
		HasScheduledInitialChat: m.HasScheduledInitialChat,
		HasCompletedAnamnesis:   m.HasCompletedAnamnesis,
		IsApproved:              m.IsApproved,
		LastNewsSeenAt:          m.LastNewsSeenAt,
		MealPlan:                m.MealPlan,
		ShoppingList:            shopping,
		Anamnesis:               anamnesis,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}, nil
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

func settingFromModel(m AppSettingModel) domain.AppSetting {
	return domain.AppSetting{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedAt}
}

func materialToModel(m domain.Material) MaterialModel {
	return MaterialModel{
		ID:         m.ID,
		Title:      m.Title,
		URL:        m.URL,
		StorageKey: m.StorageKey,
		CreatedAt:  m.CreatedAt,
	}
}

func materialFromModel(m MaterialModel) domain.Material {
	return domain.Material{
		ID:         m.ID,
		Title:      m.Title,
		URL:        m.URL,
		StorageKey: m.StorageKey,
		CreatedAt:  m.CreatedAt,
	}
}

func newsToModel(n domain.NewsPost) NewsPostModel {
	return NewsPostModel{ID: n.ID, Title: n.Title, Body: n.Body, CreatedAt: n.CreatedAt}
}

func newsFromModel(m NewsPostModel) domain.NewsPost {
	return domain.NewsPost{ID: m.ID, Title: m.Title, Body: m.Body, CreatedAt: m.CreatedAt}
}

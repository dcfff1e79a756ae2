package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"nutriflow/pkg/domain"
)

// MemoryStore keeps all rows in-process. Used by tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	profiles  map[string]domain.Profile
	email     map[string]string // email -> profile ID
	order     []string          // profile insertion order
	messages  []domain.Message
	settings  map[string]domain.AppSetting
	materials map[string]domain.Material
	matOrder  []string
	assigned  map[string][]string // profile ID -> material IDs
	news      []domain.NewsPost
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]domain.Profile),
		email:     make(map[string]string),
		settings:  make(map[string]domain.AppSetting),
		materials: make(map[string]domain.Material),
		assigned:  make(map[string][]string),
	}
}

// SaveProfile registers or replaces a profile.
func (m *MemoryStore) SaveProfile(p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.profiles[p.ID] = p
	m.email[p.Email] = p.ID
	return nil
}

// HasProfileEmail checks if email exists.
func (m *MemoryStore) HasProfileEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetProfileByEmail looks up a profile by email.
func (m *MemoryStore) GetProfileByEmail(email string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.Profile{}, false, nil
	}
	p, ok := m.profiles[id]
	return p, ok, nil
}

// GetProfileByID returns a profile by ID.
func (m *MemoryStore) GetProfileByID(id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// ListProfiles returns profiles in insertion order.
func (m *MemoryStore) ListProfiles() ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Profile, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.profiles[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// ProfileCount returns number of profiles.
func (m *MemoryStore) ProfileCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles), nil
}

func (m *MemoryStore) updateProfile(id string, fn func(*domain.Profile)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return fmt.Errorf("profile %s not found", id)
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	m.profiles[id] = p
	return nil
}

// MarkWelcomeSeen sets has_seen_welcome. The flag is only ever raised.
func (m *MemoryStore) MarkWelcomeSeen(id string) error {
	return m.updateProfile(id, func(p *domain.Profile) { p.HasSeenWelcome = true })
}

// MarkSchedulingConfirmed sets has_scheduled_initial_chat.
func (m *MemoryStore) MarkSchedulingConfirmed(id string) error {
	return m.updateProfile(id, func(p *domain.Profile) { p.HasScheduledInitialChat = true })
}

// MarkAnamnesisCompleted stores intake answers and sets has_completed_anamnesis.
func (m *MemoryStore) MarkAnamnesisCompleted(id string, answers map[string]string) error {
	return m.updateProfile(id, func(p *domain.Profile) {
		p.HasCompletedAnamnesis = true
		p.Anamnesis = answers
	})
}

// SetApproved updates approval.
func (m *MemoryStore) SetApproved(id string, approved bool) error {
	return m.updateProfile(id, func(p *domain.Profile) { p.IsApproved = approved })
}

// SetLastNewsSeen records the news dismissal timestamp.
func (m *MemoryStore) SetLastNewsSeen(id string, at time.Time) error {
	return m.updateProfile(id, func(p *domain.Profile) { p.LastNewsSeenAt = at.UTC() })
}

// SetMealPlan replaces the meal plan text.
func (m *MemoryStore) SetMealPlan(id string, plan string) error {
	return m.updateProfile(id, func(p *domain.Profile) { p.MealPlan = plan })
}

// SetShoppingList replaces the entire list.
func (m *MemoryStore) SetShoppingList(id string, items []domain.ShoppingItem) error {
	copied := make([]domain.ShoppingItem, len(items))
	copy(copied, items)
	return m.updateProfile(id, func(p *domain.Profile) { p.ShoppingList = copied })
}

// AppendMessage records a message.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// ListConversation returns the symmetric-pair history sorted ascending by
// creation time.
func (m *MemoryStore) ListConversation(userA, userB string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if (msg.SenderID == userA && msg.ReceiverID == userB) ||
			(msg.SenderID == userB && msg.ReceiverID == userA) {
			res = append(res, msg)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// UnreadBySender groups unread messages for a receiver by sender.
func (m *MemoryStore) UnreadBySender(receiverID string) ([]domain.UnreadGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := make([]string, 0)
	groups := make(map[string]*domain.UnreadGroup)
	for _, msg := range m.messages {
		if msg.ReceiverID != receiverID || msg.IsRead {
			continue
		}
		g, ok := groups[msg.SenderID]
		if !ok {
			name := ""
			if p, found := m.profiles[msg.SenderID]; found {
				name = p.Name
			}
			g = &domain.UnreadGroup{SenderID: msg.SenderID, SenderName: name}
			groups[msg.SenderID] = g
			order = append(order, msg.SenderID)
		}
		g.Count++
		g.MessageIDs = append(g.MessageIDs, msg.ID)
	}
	res := make([]domain.UnreadGroup, 0, len(order))
	for _, id := range order {
		res = append(res, *groups[id])
	}
	return res, nil
}

// MarkMessagesRead flips is_read for the given IDs.
func (m *MemoryStore) MarkMessagesRead(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if wanted[m.messages[i].ID] {
			m.messages[i].IsRead = true
		}
	}
	return nil
}

// GetSetting returns one app setting by key.
func (m *MemoryStore) GetSetting(key string) (domain.AppSetting, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	return s, ok, nil
}

// SetSetting upserts an app setting.
func (m *MemoryStore) SetSetting(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = domain.AppSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

// ListSettings returns all app settings sorted by key.
func (m *MemoryStore) ListSettings() ([]domain.AppSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.AppSetting, 0, len(m.settings))
	for _, s := range m.settings {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

// SaveMaterial stores or updates a material.
func (m *MemoryStore) SaveMaterial(mat domain.Material) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.materials[mat.ID]; !exists {
		m.matOrder = append(m.matOrder, mat.ID)
	}
	m.materials[mat.ID] = mat
	return nil
}

// GetMaterial returns one material by ID.
func (m *MemoryStore) GetMaterial(id string) (domain.Material, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mat, ok := m.materials[id]
	return mat, ok, nil
}

// ListMaterials returns all materials in insertion order.
func (m *MemoryStore) ListMaterials() ([]domain.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Material, 0, len(m.matOrder))
	for _, id := range m.matOrder {
		if mat, ok := m.materials[id]; ok {
			res = append(res, mat)
		}
	}
	return res, nil
}

// ListMaterialsForProfile returns assigned materials in assignment order.
func (m *MemoryStore) ListMaterialsForProfile(profileID string) ([]domain.Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.assigned[profileID]
	res := make([]domain.Material, 0, len(ids))
	for _, id := range ids {
		if mat, ok := m.materials[id]; ok {
			res = append(res, mat)
		}
	}
	return res, nil
}

// AssignMaterial links a material to a profile.
func (m *MemoryStore) AssignMaterial(profileID, materialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.assigned[profileID] {
		if id == materialID {
			return nil
		}
	}
	m.assigned[profileID] = append(m.assigned[profileID], materialID)
	return nil
}

// UnassignMaterial removes the link.
func (m *MemoryStore) UnassignMaterial(profileID, materialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.assigned[profileID]
	filtered := ids[:0]
	for _, id := range ids {
		if id != materialID {
			filtered = append(filtered, id)
		}
	}
	m.assigned[profileID] = filtered
	return nil
}

// SaveNewsPost stores a news post.
func (m *MemoryStore) SaveNewsPost(n domain.NewsPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.news = append(m.news, n)
	return nil
}

// ListNews returns newest posts first.
func (m *MemoryStore) ListNews(limit int) ([]domain.NewsPost, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.NewsPost, len(m.news))
	copy(res, m.news)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// LatestNewsAt returns the newest post's creation time, or zero when none.
func (m *MemoryStore) LatestNewsAt() (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, n := range m.news {
		if n.CreatedAt.After(latest) {
			latest = n.CreatedAt
		}
	}
	return latest, nil
}

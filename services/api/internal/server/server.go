package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nutriflow/internal/util"
	"nutriflow/pkg/auth"
	"nutriflow/pkg/chat"
	"nutriflow/pkg/domain"
	"nutriflow/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the api service.
type Server struct {
	app     *app.App
	trusted *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		trusted: cfg.TrustedProxies,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with standard middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithCORS(util.WithSecurityHeaders(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/logout", s.handleLogout)

	// patient
	s.mux.Handle("/me", s.authenticated(s.handleMe))
	s.mux.Handle("/me/welcome-seen", s.authenticated(s.handleWelcomeSeen))
	s.mux.Handle("/me/scheduling-confirmed", s.authenticated(s.handleSchedulingConfirmed))
	s.mux.Handle("/me/anamnesis", s.authenticated(s.handleAnamnesis))
	s.mux.Handle("/me/news-seen", s.authenticated(s.handleNewsSeen))
	s.mux.Handle("/me/materials", s.authenticated(s.handleMyMaterials))
	s.mux.Handle("/me/shopping-list", s.authenticated(s.handleShoppingList))
	s.mux.Handle("/me/shopping-list/", s.authenticated(s.handleShoppingItem))
	s.mux.Handle("/me/chat", s.authenticated(s.handleMyChat))
	s.mux.Handle("/me/chat/stream", s.authenticated(s.handleMyChatStream))
	s.mux.Handle("/news", s.authenticated(s.handleNews))
	s.mux.Handle("/settings", s.authenticated(s.handleSettings))

	// admin
	s.mux.Handle("/admin/patients", s.adminOnly(s.handleAdminPatients))
	s.mux.Handle("/admin/patients/", s.adminOnly(s.handleAdminPatientByID))
	s.mux.Handle("/admin/materials", s.adminOnly(s.handleAdminMaterials))
	s.mux.Handle("/admin/settings", s.adminOnly(s.handleAdminSettings))
	s.mux.Handle("/admin/settings/", s.adminOnly(s.handleAdminSettingByKey))
	s.mux.Handle("/admin/news", s.adminOnly(s.handleAdminNews))
	s.mux.Handle("/admin/inbox", s.adminOnly(s.handleAdminInbox))
	s.mux.Handle("/admin/inbox/read", s.adminOnly(s.handleAdminInboxRead))
	s.mux.Handle("/admin/chat/", s.adminOnly(s.handleAdminChat))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Profile)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, profile)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
		if profile.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, profile)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Profile, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.Profile{}, false
	}
	return s.app.ProfileFromToken(token)
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.app.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, token, err := s.app.SignIn(req.Email, req.Password, util.ClientIP(r, s.trusted))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	stage, err := s.app.Stage(profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Profile: profile, Stage: string(stage)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.SignOut(token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patient handlers
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.writeProfileWithStage(w, profile)
}

func (s *Server) handleWelcomeSeen(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	s.handleFlagAdvance(w, r, profile, s.app.MarkWelcomeSeen)
}

func (s *Server) handleSchedulingConfirmed(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	s.handleFlagAdvance(w, r, profile, s.app.ConfirmScheduling)
}

func (s *Server) handleNewsSeen(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	s.handleFlagAdvance(w, r, profile, s.app.DismissNews)
}

func (s *Server) handleFlagAdvance(w http.ResponseWriter, r *http.Request, profile domain.Profile, advance func(string) (domain.Profile, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	updated, err := advance(profile.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeProfileWithStage(w, updated)
}

func (s *Server) handleAnamnesis(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req anamnesisRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := s.app.SubmitAnamnesis(profile.ID, req.Answers)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.writeProfileWithStage(w, updated)
}

func (s *Server) handleMyMaterials(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	materials, err := s.app.MaterialsForProfile(r.Context(), profile.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": materials, "count": len(materials)})
}

func (s *Server) handleShoppingList(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, shoppingListResponse{Items: profile.ShoppingList})
	case http.MethodPost:
		var req addItemRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		items, err := s.app.AddShoppingItem(profile.ID, req.Text)
		if err != nil {
			s.writeListError(w, err, items)
			return
		}
		writeJSON(w, http.StatusOK, shoppingListResponse{Items: items})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleShoppingItem(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	rest := strings.TrimPrefix(r.URL.Path, "/me/shopping-list/")
	itemID, action, _ := strings.Cut(rest, "/")
	if itemID == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodPost && action == "toggle":
		items, err := s.app.ToggleShoppingItem(profile.ID, itemID)
		if err != nil {
			s.writeListError(w, err, items)
			return
		}
		writeJSON(w, http.StatusOK, shoppingListResponse{Items: items})
	case r.Method == http.MethodDelete && action == "":
		items, err := s.app.RemoveShoppingItem(profile.ID, itemID)
		if err != nil {
			s.writeListError(w, err, items)
			return
		}
		writeJSON(w, http.StatusOK, shoppingListResponse{Items: items})
	default:
		methodNotAllowed(w)
	}
}

// writeListError reports a failed shopping list write. When the stored list
// is known it is included so clients can roll back to the persisted state.
func (s *Server) writeListError(w http.ResponseWriter, err error, items []domain.ShoppingItem) {
	if items != nil {
		writeJSON(w, http.StatusConflict, shoppingListResponse{Items: items, Error: "update failed"})
		return
	}
	s.writeAppError(w, err)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	posts, err := s.app.ListNews(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": posts, "count": len(posts)})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	settings, err := s.app.ListSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": settings, "count": len(settings)})
}

// chat handlers
func (s *Server) handleMyChat(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	admin, err := s.app.AdminProfile()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.handleConversation(w, r, profile, admin.ID)
}

func (s *Server) handleMyChatStream(w http.ResponseWriter, r *http.Request, profile domain.Profile) {
	admin, err := s.app.AdminProfile()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.streamConversation(w, r, profile.ID, admin.ID)
}

func (s *Server) handleAdminChat(w http.ResponseWriter, r *http.Request, admin domain.Profile) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/chat/")
	patientID, action, _ := strings.Cut(rest, "/")
	if patientID == "" {
		http.NotFound(w, r)
		return
	}
	if action == "stream" {
		s.streamConversation(w, r, admin.ID, patientID)
		return
	}
	if action != "" {
		http.NotFound(w, r)
		return
	}
	s.handleConversation(w, r, admin, patientID)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, sender domain.Profile, partnerID string) {
	switch r.Method {
	case http.MethodGet:
		history, err := s.app.Conversation(r.Context(), sender.ID, partnerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": history, "count": len(history)})
	case http.MethodPost:
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), sender.ID, partnerID, req.Content)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

// streamConversation pushes conversation inserts over SSE until the client
// disconnects. Each event carries one message encoded as JSON.
func (s *Server) streamConversation(w http.ResponseWriter, r *http.Request, userA, userB string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub, err := s.app.SubscribeConversation(r.Context(), userA, userB)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("drop unencodable message event", "err", err)
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// admin handlers
func (s *Server) handleAdminPatients(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profiles, err := s.app.ListProfiles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": profiles, "count": len(profiles)})
}

func (s *Server) handleAdminPatientByID(w http.ResponseWriter, r *http.Request, admin domain.Profile) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/patients/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		profile, err := s.app.GetProfile(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case "approval":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req approvalRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.SetApproval(id, req.Approved)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case "confirm-email":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		profile, err := s.app.ConfirmEmail(id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case "meal-plan":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var req mealPlanRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.SetMealPlan(id, req.Plan)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		s.handleAdminPatientMaterials(w, r, id, action)
	}
}

func (s *Server) handleAdminPatientMaterials(w http.ResponseWriter, r *http.Request, patientID, action string) {
	materialPart, ok := strings.CutPrefix(action, "materials")
	if !ok {
		http.NotFound(w, r)
		return
	}
	materialID := strings.TrimPrefix(materialPart, "/")
	switch {
	case r.Method == http.MethodGet && materialID == "":
		materials, err := s.app.MaterialsForProfile(r.Context(), patientID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": materials, "count": len(materials)})
	case r.Method == http.MethodPost && materialID == "":
		var req assignMaterialRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.MaterialID == "" {
			writeError(w, http.StatusBadRequest, "materialId is required")
			return
		}
		if err := s.app.AssignMaterial(patientID, req.MaterialID); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && materialID != "":
		if err := s.app.UnassignMaterial(patientID, materialID); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminMaterials(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		materials, err := s.app.ListMaterials(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": materials, "count": len(materials)})
	case http.MethodPost:
		s.handleCreateMaterial(w, r)
	default:
		methodNotAllowed(w)
	}
}

// handleCreateMaterial accepts either a JSON body linking an external URL or
// a multipart form with a file to store.
func (s *Server) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		title := r.FormValue("title")
		material, err := s.app.UploadMaterial(r.Context(), title, file, header.Size, header.Header.Get("Content-Type"))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, material)
		return
	}
	var req createMaterialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	material, err := s.app.CreateMaterialLink(req.Title, req.URL)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, material)
}

func (s *Server) handleAdminSettings(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	settings, err := s.app.ListSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": settings, "count": len(settings)})
}

func (s *Server) handleAdminSettingByKey(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	key := strings.TrimPrefix(r.URL.Path, "/admin/settings/")
	if key == "" || strings.Contains(key, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req settingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SetSetting(key, req.Value); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminNews(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	switch r.Method {
	case http.MethodGet:
		posts, err := s.app.ListNews(50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": posts, "count": len(posts)})
	case http.MethodPost:
		var req newsRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		post, err := s.app.PublishNews(req.Title, req.Body)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, post)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminInbox(w http.ResponseWriter, r *http.Request, admin domain.Profile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	groups, err := s.app.UnreadInbox(r.Context(), admin.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups, "count": len(groups)})
}

func (s *Server) handleAdminInboxRead(w http.ResponseWriter, r *http.Request, _ domain.Profile) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// Best effort: a failed read-flag update must not block the admin's view.
	if err := s.app.MarkMessagesRead(r.Context(), req.MessageIDs); err != nil {
		slog.Warn("mark messages read failed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeProfileWithStage(w http.ResponseWriter, profile domain.Profile) {
	stage, err := s.app.Stage(profile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: profile, Stage: string(stage)})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrEmailNotConfirmed), errors.Is(err, app.ErrAccountDisabled), errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrProfileNotFound), errors.Is(err, app.ErrMaterialNotFound), errors.Is(err, app.ErrItemNotFound), errors.Is(err, app.ErrNoAdminProfile):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrAnswersRequired),
		errors.Is(err, app.ErrItemTextRequired),
		errors.Is(err, app.ErrMaterialFieldsRequired),
		errors.Is(err, app.ErrSettingKeyRequired),
		errors.Is(err, app.ErrNewsTitleRequired),
		errors.Is(err, app.ErrObjectStorageDisabled),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Profile domain.Profile `json:"profile"`
	Stage   string         `json:"stage"`
}

type profileResponse struct {
	Profile domain.Profile `json:"profile"`
	Stage   string         `json:"stage"`
}

type anamnesisRequest struct {
	Answers map[string]string `json:"answers"`
}

type addItemRequest struct {
	Text string `json:"text"`
}

type shoppingListResponse struct {
	Items []domain.ShoppingItem `json:"items"`
	Error string                `json:"error,omitempty"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type approvalRequest struct {
	Approved bool `json:"approved"`
}

type mealPlanRequest struct {
	Plan string `json:"plan"`
}

type createMaterialRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type assignMaterialRequest struct {
	MaterialID string `json:"materialId"`
}

type settingRequest struct {
	Value string `json:"value"`
}

type newsRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

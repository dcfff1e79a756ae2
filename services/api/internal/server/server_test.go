package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"nutriflow/pkg/chat"
	"nutriflow/pkg/domain"
	"nutriflow/pkg/store"
	"nutriflow/services/api/internal/app"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore("test-secret-0123456789", time.Minute, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	channel, err := chat.NewChannel(st, mr.Addr(), "")
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:    st,
		Sessions: sessions,
		Chat:     channel,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, appCore
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func signUp(t *testing.T, baseURL, name, email string) domain.Profile {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": "password1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, resp.StatusCode)
	}
	return decodeBody[domain.Profile](t, resp)
}

func logIn(t *testing.T, baseURL, email string) (domain.Profile, string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/auth/login", "", map[string]string{
		"email": email, "password": "password1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	out := decodeBody[loginResponse](t, resp)
	return out.Profile, out.Token
}

// setUpClinic registers a confirmed admin and patient and returns their tokens.
func setUpClinic(t *testing.T, baseURL string) (admin, patient domain.Profile, adminToken, patientToken string) {
	t.Helper()
	admin = signUp(t, baseURL, "Dr. Admin", "admin@clinic.test")
	patient = signUp(t, baseURL, "Pat", "pat@clinic.test")
	admin, adminToken = logIn(t, baseURL, admin.Email)
	resp := doJSON(t, http.MethodPost, baseURL+"/admin/patients/"+patient.ID+"/confirm-email", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm email: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	patient, patientToken = logIn(t, baseURL, patient.Email)
	return admin, patient, adminToken, patientToken
}

func TestAuthAndRoleGates(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, _, patientToken := setUpClinic(t, srv.URL)

	resp := doJSON(t, http.MethodGet, srv.URL+"/me", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/patients", patientToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient on admin route expected 403, got %d", resp.StatusCode)
	}
}

func TestLoginErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t)
	signUp(t, srv.URL, "Dr. Admin", "admin@clinic.test")
	signUp(t, srv.URL, "Pat", "pat@clinic.test")

	resp := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "admin@clinic.test", "password": "wrongpass99",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"email": "pat@clinic.test", "password": "password1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unconfirmed email expected 403, got %d", resp.StatusCode)
	}
}

func TestOnboardingFlowOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	_, patient, adminToken, patientToken := setUpClinic(t, srv.URL)

	stage := func(resp *http.Response, want string) {
		t.Helper()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}
		out := decodeBody[profileResponse](t, resp)
		if out.Stage != want {
			t.Fatalf("stage = %q, want %q", out.Stage, want)
		}
	}

	stage(doJSON(t, http.MethodGet, srv.URL+"/me", patientToken, nil), "welcome")
	stage(doJSON(t, http.MethodPost, srv.URL+"/me/welcome-seen", patientToken, nil), "scheduling")
	stage(doJSON(t, http.MethodPost, srv.URL+"/me/scheduling-confirmed", patientToken, nil), "anamnesis")
	stage(doJSON(t, http.MethodPost, srv.URL+"/me/anamnesis", patientToken, map[string]any{
		"answers": map[string]string{"allergies": "none"},
	}), "approval_wait")

	// A patient action cannot leave the approval gate.
	stage(doJSON(t, http.MethodGet, srv.URL+"/me", patientToken, nil), "approval_wait")

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/patients/"+patient.ID+"/approval", adminToken, map[string]bool{"approved": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	stage(doJSON(t, http.MethodGet, srv.URL+"/me", patientToken, nil), "dashboard")

	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/news", adminToken, map[string]string{
		"title": "Holiday hours", "body": "Closed Friday.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish news: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	stage(doJSON(t, http.MethodGet, srv.URL+"/me", patientToken, nil), "news_gate")
	stage(doJSON(t, http.MethodPost, srv.URL+"/me/news-seen", patientToken, nil), "dashboard")
}

func TestShoppingListEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, _, patientToken := setUpClinic(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/me/shopping-list", patientToken, map[string]string{"text": "Milk"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add: status %d", resp.StatusCode)
	}
	list := decodeBody[shoppingListResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].Text != "Milk" || list.Items[0].Checked {
		t.Fatalf("unexpected list: %+v", list.Items)
	}
	itemID := list.Items[0].ID

	resp = doJSON(t, http.MethodPost, srv.URL+"/me/shopping-list/"+itemID+"/toggle", patientToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle: status %d", resp.StatusCode)
	}
	list = decodeBody[shoppingListResponse](t, resp)
	if !list.Items[0].Checked {
		t.Fatalf("item not checked: %+v", list.Items)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/me/shopping-list/missing/toggle", patientToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown item expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/me/shopping-list/"+itemID, patientToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	list = decodeBody[shoppingListResponse](t, resp)
	if len(list.Items) != 0 {
		t.Fatalf("expected empty list, got %+v", list.Items)
	}
}

func TestChatAndAdminInbox(t *testing.T) {
	srv, _ := newTestServer(t)
	_, patient, adminToken, patientToken := setUpClinic(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/me/chat", patientToken, map[string]string{"content": "Hello doctor"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status %d", resp.StatusCode)
	}
	sent := decodeBody[domain.Message](t, resp)

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/chat/"+patient.ID, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin history: status %d", resp.StatusCode)
	}
	history := decodeBody[struct {
		Items []domain.Message `json:"items"`
	}](t, resp)
	if len(history.Items) != 1 || history.Items[0].ID != sent.ID {
		t.Fatalf("history mismatch: %+v", history.Items)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/inbox", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inbox: status %d", resp.StatusCode)
	}
	inbox := decodeBody[struct {
		Items []domain.UnreadGroup `json:"items"`
	}](t, resp)
	if len(inbox.Items) != 1 || inbox.Items[0].SenderID != patient.ID || inbox.Items[0].Count != 1 {
		t.Fatalf("inbox mismatch: %+v", inbox.Items)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/inbox/read", adminToken, map[string]any{
		"messageIds": inbox.Items[0].MessageIDs,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/admin/inbox", adminToken, nil)
	inbox = decodeBody[struct {
		Items []domain.UnreadGroup `json:"items"`
	}](t, resp)
	if len(inbox.Items) != 0 {
		t.Fatalf("inbox must be empty after mark read, got %+v", inbox.Items)
	}
}

func TestChatStreamDeliversInserts(t *testing.T) {
	srv, _ := newTestServer(t)
	_, patient, adminToken, patientToken := setUpClinic(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/me/chat/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+patientToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	// The subscription is confirmed before the response headers are written,
	// so a message sent now must arrive on the stream.
	sendResp := doJSON(t, http.MethodPost, srv.URL+"/admin/chat/"+patient.ID, adminToken, map[string]string{"content": "Your plan is ready"})
	if sendResp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status %d", sendResp.StatusCode)
	}
	sendResp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &msg); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if msg.Content != "Your plan is ready" {
			t.Fatalf("unexpected event: %+v", msg)
		}
		return
	}
}

func TestAdminMaterialsAndSettings(t *testing.T) {
	srv, _ := newTestServer(t)
	_, patient, adminToken, patientToken := setUpClinic(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/admin/materials", adminToken, map[string]string{
		"title": "Protein guide", "url": "https://example.test/guide.pdf",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create material: status %d", resp.StatusCode)
	}
	material := decodeBody[domain.Material](t, resp)

	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/patients/"+patient.ID+"/materials", adminToken, map[string]string{
		"materialId": material.ID,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign material: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/me/materials", patientToken, nil)
	mine := decodeBody[struct {
		Items []domain.Material `json:"items"`
	}](t, resp)
	if len(mine.Items) != 1 || mine.Items[0].ID != material.ID {
		t.Fatalf("assigned materials mismatch: %+v", mine.Items)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/admin/settings/welcome_video_url", adminToken, map[string]string{
		"value": "https://example.test/welcome.mp4",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set setting: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/settings", patientToken, nil)
	settings := decodeBody[struct {
		Items []domain.AppSetting `json:"items"`
	}](t, resp)
	if len(settings.Items) != 1 || settings.Items[0].Value != "https://example.test/welcome.mp4" {
		t.Fatalf("settings mismatch: %+v", settings.Items)
	}
}

func TestAdminMealPlan(t *testing.T) {
	srv, _ := newTestServer(t)
	_, patient, adminToken, patientToken := setUpClinic(t, srv.URL)

	plan := fmt.Sprintf("Week of %s: oats, salmon, greens", time.Now().Format("2006-01-02"))
	resp := doJSON(t, http.MethodPut, srv.URL+"/admin/patients/"+patient.ID+"/meal-plan", adminToken, map[string]string{"plan": plan})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set meal plan: status %d", resp.StatusCode)
	}
	updated := decodeBody[domain.Profile](t, resp)
	if updated.MealPlan != plan {
		t.Fatalf("meal plan not saved: %q", updated.MealPlan)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/me", patientToken, nil)
	me := decodeBody[profileResponse](t, resp)
	if me.Profile.MealPlan != plan {
		t.Fatalf("patient does not see meal plan: %q", me.Profile.MealPlan)
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/oralexam/internal/i18n"
	"github.com/pavelanni/oralexam/internal/model"
	"github.com/pavelanni/oralexam/internal/pipeline"
	"github.com/pavelanni/oralexam/internal/store"
	"github.com/pavelanni/oralexam/internal/topics"
)

type fakeAnalyzer struct {
	result model.ScoringResult
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audio []byte, plan model.TopicPlan) model.ScoringResult {
	return f.result
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLite) {
	t.Helper()

	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}

	st, err := store.NewSQLite(":memory:", t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	catalog := topics.FromPlans([]model.TopicPlan{
		{Topic: "Nature Appreciation", Introduction: "Greet", Body: "Describe", Conclusion: "Wrap up"},
		{Topic: "My Family", Introduction: "Greet", Body: "Members", Conclusion: "Wrap up"},
	})

	an := &fakeAnalyzer{result: model.ScoringResult{
		Transcript:     "hello",
		Rubric:         model.RubricScores{Content: 3, Organization: 2, Language: 3, Fluency: 2},
		Percent:        83,
		TeacherComment: "Güzel bir konuşma.",
	}}

	h := New(st, st, pipeline.New(an, st, catalog), catalog, Config{})

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func submitForm(t *testing.T, url string, fields map[string]string, audio []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "recording.webm")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(audio); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	mw.Close()

	resp, err := http.Post(url+"/submit", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post submit: %v", err)
	}
	return resp
}

func validFields() map[string]string {
	return map[string]string{
		"student_name":  "Ayşe Y.",
		"class_section": "7/B",
		"roll_number":   "12",
		"topic":         "Nature Appreciation",
	}
}

func TestConfigAudioCap(t *testing.T) {
	h := New(nil, nil, nil, nil, Config{})
	if h.config.MaxAudioBytes != 32<<20 {
		t.Errorf("default cap = %d, want %d", h.config.MaxAudioBytes, 32<<20)
	}

	h = New(nil, nil, nil, nil, Config{MaxAudioBytes: 1024})
	if h.config.MaxAudioBytes != 1024 {
		t.Errorf("configured cap = %d, want 1024", h.config.MaxAudioBytes)
	}
}

func TestTopicsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/topics")
	if err != nil {
		t.Fatalf("get topics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var plans []model.TopicPlan
	if err := json.NewDecoder(resp.Body).Decode(&plans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("got %d topics, want 2", len(plans))
	}
	if plans[0].Topic != "My Family" || plans[1].Topic != "Nature Appreciation" {
		t.Errorf("topics not sorted: %q, %q", plans[0].Topic, plans[1].Topic)
	}
}

func TestSubmitSuccess(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submitForm(t, srv.URL, validFields(), []byte("webm-bytes"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var card scorecard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !card.Saved {
		t.Errorf("Saved = false, want true")
	}
	if card.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", card.Remaining)
	}
	if card.Record.Percent != 83 {
		t.Errorf("Percent = %d, want 83", card.Record.Percent)
	}
	if card.Record.StudentName != "Ayşe Y." {
		t.Errorf("StudentName = %q", card.Record.StudentName)
	}
	if card.Message != "1 attempt remaining." {
		t.Errorf("Message = %q", card.Message)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		mutate func(map[string]string)
		audio  []byte
	}{
		{"missing name", func(f map[string]string) { f["student_name"] = "" }, []byte("a")},
		{"missing audio", func(f map[string]string) {}, nil},
		{"unknown topic", func(f map[string]string) { f["topic"] = "Quantum Physics" }, []byte("a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			tt.mutate(fields)
			resp := submitForm(t, srv.URL, fields, tt.audio)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestSubmitAttemptLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp := submitForm(t, srv.URL, validFields(), []byte("audio"))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp := submitForm(t, srv.URL, validFields(), []byte("audio"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("third attempt: status = %d, want 409", resp.StatusCode)
	}

	var card scorecard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(card.Prior) != 2 {
		t.Errorf("got %d prior attempts, want 2", len(card.Prior))
	}
}

func createUser(t *testing.T, st *store.SQLite, username, password string, role model.UserRole) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := st.CreateUser(model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func login(t *testing.T, url, username, password string) *http.Cookie {
	t.Helper()
	resp, err := http.PostForm(url+"/login", map[string][]string{
		"username": {username},
		"password": {password},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestResultsRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginAndResults(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, st, "teacher1", "secret", model.UserRoleTeacher)

	resp := submitForm(t, srv.URL, validFields(), []byte("audio"))
	resp.Body.Close()

	cookie := login(t, srv.URL, "teacher1", "secret")

	req, _ := http.NewRequest("GET", srv.URL+"/results", nil)
	req.AddCookie(cookie)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}

	var records []model.ExamRecord
	if err := json.NewDecoder(resp2.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].RollNumber != "12" {
		t.Errorf("RollNumber = %q, want 12", records[0].RollNumber)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, st, "teacher1", "secret", model.UserRoleTeacher)

	resp, err := http.PostForm(srv.URL+"/login", map[string][]string{
		"username": {"teacher1"},
		"password": {"wrong"},
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, st, "teacher1", "secret", model.UserRoleTeacher)
	cookie := login(t, srv.URL, "teacher1", "secret")

	req, _ := http.NewRequest("POST", srv.URL+"/logout", nil)
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest("GET", srv.URL+"/results", nil)
	req2.AddCookie(cookie)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", resp2.StatusCode)
	}
}

func TestAdminRoutesForbiddenForTeacher(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, st, "teacher1", "secret", model.UserRoleTeacher)
	cookie := login(t, srv.URL, "teacher1", "secret")

	req, _ := http.NewRequest("GET", srv.URL+"/admin/users/", nil)
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get admin users: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminUserManagement(t *testing.T) {
	srv, st := newTestServer(t)
	createUser(t, st, "boss", "secret", model.UserRoleAdmin)
	cookie := login(t, srv.URL, "boss", "secret")

	form := strings.NewReader("username=teacher2&password=pw&role=teacher")
	req, _ := http.NewRequest("POST", srv.URL+"/admin/users/", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created userView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Username != "teacher2" || !created.Active {
		t.Errorf("created = %+v", created)
	}

	req2, _ := http.NewRequest("GET", srv.URL+"/admin/users/", nil)
	req2.AddCookie(cookie)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	defer resp2.Body.Close()
	var users []userView
	if err := json.NewDecoder(resp2.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}

	toggleURL := srv.URL + "/admin/users/" + strconv.FormatInt(created.ID, 10) + "/toggle"
	req3, _ := http.NewRequest("POST", toggleURL, nil)
	req3.AddCookie(cookie)
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("toggle user: %v", err)
	}
	defer resp3.Body.Close()
	var toggled userView
	if err := json.NewDecoder(resp3.Body).Decode(&toggled); err != nil {
		t.Fatalf("decode toggled: %v", err)
	}
	if toggled.Active {
		t.Errorf("user still active after toggle")
	}
}

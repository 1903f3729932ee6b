package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fakecrypto/game-engine/internal/api"
	"github.com/fakecrypto/game-engine/internal/command"
)

const secret = "test-secret"

type fakeCommander struct {
	mu   sync.Mutex
	reqs []command.Request
}

func (f *fakeCommander) Handle(_ context.Context, req command.Request) command.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	name, _ := command.Parse(req.Text)
	return command.Result{Command: name, Reply: "ok " + name, Status: command.StatusOK}
}

func (f *fakeCommander) last(t *testing.T) command.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("no command was handled")
	}
	return f.reqs[len(f.reqs)-1]
}

// fakeStream records which entry point served the request.
type fakeStream struct {
	served  []int64
	handled int
}

func (f *fakeStream) ServeWS(w http.ResponseWriter, _ *http.Request, userID int64) {
	f.served = append(f.served, userID)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeStream) HandleWS(w http.ResponseWriter, _ *http.Request) {
	f.handled++
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func newTestEnv(t *testing.T, jwtSecret string) (*fakeCommander, *fakeStream, http.Handler) {
	t.Helper()
	cmds := &fakeCommander{}
	stream := &fakeStream{}
	srv := api.NewServer(api.Options{Commands: cmds, Stream: stream, JWTSecret: jwtSecret})
	return cmds, stream, srv.Router()
}

func postCommand(t *testing.T, router http.Handler, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

// --- Commands ---

func TestHandleCommand(t *testing.T) {
	cmds, _, router := newTestEnv(t, "")

	w := postCommand(t, router, api.CommandRequest{UserID: 42, ChatID: 7, Text: "/buy BTC 100"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res command.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Command != "buy" || res.Reply != "ok buy" || res.Status != command.StatusOK {
		t.Errorf("result = %+v", res)
	}

	got := cmds.last(t)
	if got.UserID != 42 || got.ChatID != 7 || got.Text != "/buy BTC 100" {
		t.Errorf("request = %+v", got)
	}
}

func TestHandleCommand_ChatDefaultsToUser(t *testing.T) {
	cmds, _, router := newTestEnv(t, "")
	w := postCommand(t, router, map[string]any{"user_id": 9, "text": "/prices"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := cmds.last(t); got.ChatID != 9 {
		t.Errorf("chat id = %d, want 9", got.ChatID)
	}
}

func TestHandleCommand_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"user_id":`, "invalid request body"},
		{"missing text", `{"user_id":1}`, "text is required"},
		{"text too long", `{"user_id":1,"text":"` + strings.Repeat("a", 600) + `"}`, "text is too long"},
		{"negative user", `{"user_id":-1,"text":"/help"}`, "user_id is invalid"},
		{"missing user", `{"text":"/help"}`, "user_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, _, router := newTestEnv(t, "")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w); got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
			if len(cmds.reqs) != 0 {
				t.Error("command handled despite bad request")
			}
		})
	}
}

// endless yields 'a' forever and counts what was read.
type endless struct{ read int }

func (e *endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	e.read += len(p)
	return len(p), nil
}

func TestHandleCommand_BodyIsBounded(t *testing.T) {
	cmds, _, router := newTestEnv(t, "")
	tail := &endless{}
	body := io.MultiReader(strings.NewReader(`{"user_id":1,"text":"`), tail)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", body)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		done <- w
	}()

	var w *httptest.ResponseRecorder
	select {
	case w = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler kept reading an unbounded body")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w); got != "invalid request body" {
		t.Errorf("error = %q", got)
	}
	if tail.read > 64<<10 {
		t.Errorf("read %d bytes of body", tail.read)
	}
	if len(cmds.reqs) != 0 {
		t.Error("command handled despite oversized body")
	}
}

// --- Auth ---

func TestAuth_TokenOverridesBodyUser(t *testing.T) {
	cmds, _, router := newTestEnv(t, secret)
	token, err := api.NewAuthenticator(secret).Issue(77, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	w := postCommand(t, router, api.CommandRequest{UserID: 1, Text: "/portfolio"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := cmds.last(t); got.UserID != 77 {
		t.Errorf("user id = %d, want token subject 77", got.UserID)
	}
}

func TestAuth_Rejections(t *testing.T) {
	issuer := api.NewAuthenticator(secret)
	expired, _ := issuer.Issue(5, -time.Minute)
	wrongKey, _ := api.NewAuthenticator("other").Issue(5, time.Hour)
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "authorization required"},
		{"wrong scheme", "Basic abc", "invalid authorization format"},
		{"expired", "Bearer " + expired, "invalid or expired token"},
		{"wrong key", "Bearer " + wrongKey, "invalid or expired token"},
		{"non-numeric subject", "Bearer " + badSubject, "invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, _, router := newTestEnv(t, secret)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"text":"/help"}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if got := decodeError(t, w); got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
			if len(cmds.reqs) != 0 {
				t.Error("command handled without valid token")
			}
		})
	}
}

func TestAuthenticator_RejectsOtherAlgorithms(t *testing.T) {
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "5"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := api.NewAuthenticator(secret).Verify(none); err == nil {
		t.Fatal("unsigned token accepted")
	}
}

// --- Websocket ---

func TestHandleWS_WithoutAuthUsesQuery(t *testing.T) {
	_, stream, router := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?user_id=3", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if stream.handled != 1 || len(stream.served) != 0 {
		t.Errorf("handled = %d, served = %v", stream.handled, stream.served)
	}
}

func TestHandleWS_TokenBindsUser(t *testing.T) {
	_, stream, router := newTestEnv(t, secret)
	token, _ := api.NewAuthenticator(secret).Issue(12, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?user_id=99&token="+token, nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if len(stream.served) != 1 || stream.served[0] != 12 {
		t.Errorf("served = %v, want [12]", stream.served)
	}
}

// --- Misc ---

func TestHealth(t *testing.T) {
	_, _, router := newTestEnv(t, secret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	_, _, router := newTestEnv(t, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/commands", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

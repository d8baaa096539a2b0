package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/skillshare/realtime/internal/app"
	"github.com/skillshare/realtime/internal/app/chat"
	"github.com/skillshare/realtime/internal/app/orch"
	"github.com/skillshare/realtime/internal/config"
	"github.com/skillshare/realtime/internal/domain"
	"github.com/skillshare/realtime/internal/storage"
)

const (
	testSecret       = "test-secret-test-secret-test-secret"
	testCookieSecret = "cookie-secret"
)

type testEnv struct {
	srv     *httptest.Server
	members *storage.MemberRepo
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := storage.Open(storage.Options{
		Driver:      "sqlite",
		DSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	members := storage.NewMemberRepo(db)
	ctx := context.Background()
	for _, u := range []domain.UserID{"u1", "u2"} {
		if err := members.AddMember(ctx, 5, u, domain.RoleMember); err != nil {
			t.Fatal(err)
		}
	}

	calls := storage.NewCallRepo(db)
	o := orch.New(app.NewRouter("call", app.NewRegistry[domain.CallID]("call"), "callId"), calls, members, nil)
	hub := chat.NewHub(app.NewRouter("chat", app.NewRegistry[domain.GroupID]("chat"), "groupId"), members)
	auth, err := NewAuthenticator(testSecret, "skillshare")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Mode: "test", Secret: testCookieSecret, AllowQueryUserID: true}
	cfg.WS.SendBuffer = 16

	srvCtx, cancel := context.WithCancel(context.Background())
	r := SetupRouter(srvCtx, cfg, Deps{
		Orch: o, Hub: hub, Stats: calls, Messages: storage.NewMessageRepo(db), Members: members, Auth: auth,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		o.Shutdown()
		hub.Shutdown()
		cancel()
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testEnv{srv: srv, members: members}
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user,
		Issuer:    "skillshare",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil && m["type"] == typ {
			return m
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := setupTestServer(t)
	if resp, body := e.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
	if resp, _ := e.do(t, http.MethodGet, "/metrics", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	e := setupTestServer(t)

	if resp, _ := e.do(t, http.MethodGet, "/api/calls/user-stats", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodGet, "/api/calls/user-stats", "garbage", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodGet, "/api/calls/user-stats", token(t, "u1"), nil)
	if resp.StatusCode != http.StatusOK || body["userId"] != "u1" {
		t.Fatalf("user-stats = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}

	// the session cookie set by the token request authenticates on its own
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "RealtimeSession" {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie")
	}
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/calls/user-stats", nil)
	req.AddCookie(session)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusOK {
		t.Fatalf("cookie auth = %d", r2.StatusCode)
	}
}

func TestCallEndpointsAndForcedEnd(t *testing.T) {
	e := setupTestServer(t)
	tok := token(t, "u1")

	resp, body := e.do(t, http.MethodPost, "/api/calls/create-room", tok, map[string]any{"groupId": 5})
	if resp.StatusCode != http.StatusOK || body["existing"] != false || body["wsPath"] != "/ws/call/group/5" {
		t.Fatalf("create-room = %d %v", resp.StatusCode, body)
	}
	if resp, _ := e.do(t, http.MethodPost, "/api/calls/join-call", tok, map[string]any{"groupId": 5}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("join-call without call = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/api/calls/create-room", token(t, "stranger"), map[string]any{"groupId": 5}); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member create-room = %d", resp.StatusCode)
	}

	ws := e.dial(t, "/ws/call/group/5?userId=u1")
	joined := readType(t, ws, domain.TypeCallJoined)
	callID := joined["callId"].(string)

	resp, body = e.do(t, http.MethodGet, "/api/calls/active-call/5", tok, nil)
	if resp.StatusCode != http.StatusOK || body["liveParticipants"] != float64(1) {
		t.Fatalf("active-call = %d %v", resp.StatusCode, body)
	}
	resp, body = e.do(t, http.MethodPost, "/api/calls/join-call", token(t, "u2"), map[string]any{"groupId": 5})
	if resp.StatusCode != http.StatusOK || body["wsPath"] != "/ws/call/"+callID {
		t.Fatalf("join-call = %d %v", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodPost, "/api/calls/end-call", token(t, "u2"), map[string]any{"groupId": 5})
	if resp.StatusCode != http.StatusOK || body["callId"] != callID {
		t.Fatalf("end-call = %d %v", resp.StatusCode, body)
	}
	readType(t, ws, domain.TypeCallEnded)

	if resp, _ := e.do(t, http.MethodGet, "/api/calls/active-call/5", tok, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("active-call after end = %d", resp.StatusCode)
	}
	resp, body = e.do(t, http.MethodGet, "/api/calls/call-stats/5", tok, nil)
	if resp.StatusCode != http.StatusOK || body["totalCalls"] != float64(1) {
		t.Fatalf("call-stats = %d %v", resp.StatusCode, body)
	}
	resp, body = e.do(t, http.MethodGet, "/api/calls/ice-servers", tok, nil)
	if resp.StatusCode != http.StatusOK || len(body["iceServers"].([]any)) == 0 {
		t.Fatalf("ice-servers = %d %v", resp.StatusCode, body)
	}
}

func TestChatMessagesNotifyLiveMembers(t *testing.T) {
	e := setupTestServer(t)

	chatConn := e.dial(t, "/ws/chat/5?userId=u2")
	readType(t, chatConn, domain.TypeConnectionEstablished)

	resp, body := e.do(t, http.MethodPost, "/api/groups/5/chat/messages", token(t, "u1"), map[string]any{"content": "hello"})
	if resp.StatusCode != http.StatusCreated || body["content"] != "hello" || body["messageType"] != "text" {
		t.Fatalf("post = %d %v", resp.StatusCode, body)
	}
	n := readType(t, chatConn, domain.TypeNewMessage)
	if data := n["data"].(map[string]any); data["userId"] != "u1" || data["content"] != "hello" {
		t.Fatalf("new_message = %v", n)
	}

	if resp, _ := e.do(t, http.MethodPost, "/api/groups/5/chat/messages", token(t, "u1"), map[string]any{"content": "  "}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message = %d", resp.StatusCode)
	}
	if resp, _ := e.do(t, http.MethodPost, "/api/groups/5/chat/messages", token(t, "stranger"), map[string]any{"content": "x"}); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member post = %d", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodGet, "/api/groups/5/chat/messages?page=1&pageSize=10", token(t, "u2"), nil)
	if resp.StatusCode != http.StatusOK || len(body["messages"].([]any)) != 1 {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}
}

// mintSession signs a session cookie outside the server, the way anyone
// holding the cookie secret could.
func mintSession(t *testing.T, secret string, values map[string]any) *http.Cookie {
	t.Helper()
	r := gin.New()
	r.Use(sessions.Sessions("RealtimeSession", cookie.NewStore([]byte(secret))))
	r.GET("/", func(c *gin.Context) {
		s := sessions.Default(c)
		for k, v := range values {
			s.Set(k, v)
		}
		if err := s.Save(); err != nil {
			t.Errorf("save session: %v", err)
		}
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == "RealtimeSession" {
			return c
		}
	}
	t.Fatal("no session cookie minted")
	return nil
}

func TestSessionCookieNeedsLiveTokenExpiry(t *testing.T) {
	e := setupTestServer(t)
	future := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		cookie *http.Cookie
		want   int
	}{
		{"user without expiry", mintSession(t, testCookieSecret, map[string]any{sessionUserKey: "u2"}), http.StatusUnauthorized},
		{"expired", mintSession(t, testCookieSecret, map[string]any{sessionUserKey: "u2", sessionExpiryKey: time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized},
		{"other secret", mintSession(t, "not-the-server-secret", map[string]any{sessionUserKey: "u2", sessionExpiryKey: future}), http.StatusUnauthorized},
		{"valid", mintSession(t, testCookieSecret, map[string]any{sessionUserKey: "u2", sessionExpiryKey: future}), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/calls/ice-servers", nil)
			req.AddCookie(tc.cookie)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSessionIgnoredWithoutTokenAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("RealtimeSession", cookie.NewStore([]byte(testCookieSecret))))
	r.Use(AuthMiddleware(nil, false), RequireUser())
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, string(currentUser(c))) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(mintSession(t, testCookieSecret, map[string]any{
		sessionUserKey:   "u2",
		sessionExpiryKey: time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

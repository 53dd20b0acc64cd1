package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"codearena/internal/common/http/middleware"
	"codearena/internal/competition"
	"codearena/internal/competition/repository"
	"codearena/internal/competition/service"
	appErr "codearena/pkg/errors"
)

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	router *gin.Engine
	auth   *middleware.Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := service.NewService(service.Config{Store: repository.NewMemoryStore()})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	auth := middleware.NewAuthenticator("secret", "")
	h := NewCompetitionController(svc)
	r := gin.New()
	g := r.Group("/api/v1/competitions", middleware.AuthMiddleware(auth, true))
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/invitations", h.Invite)
	g.POST("/:id/invitations/respond", h.Respond)
	g.POST("/:id/join", h.Join)
	g.POST("/:id/start", h.Start)
	g.POST("/:id/submit", h.MarkSubmitted)
	g.POST("/:id/end", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
	g.GET("/:id/leaderboard", h.Leaderboard)
	return &harness{t: t, router: r, auth: auth}
}

func (h *harness) call(user, method, path string, body any, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	token, err := h.auth.Issue(user, time.Hour)
	if err != nil {
		h.t.Fatalf("issue: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		h.t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			h.t.Fatalf("decode data: %v", err)
		}
	}
	return rec.Code
}

func TestCompetitionFlowOverHTTP(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var c competition.Competition
	if code := h.call("alice", http.MethodPost, "/api/v1/competitions", CreateRequest{ChallengeID: "two-sum", Invitees: []string{"bob"}}, &c); code != http.StatusOK {
		t.Fatalf("create: %d", code)
	}
	base := "/api/v1/competitions/" + c.ID

	if code := h.call("bob", http.MethodPost, base+"/start", nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-creator start, got %d", code)
	}
	if code := h.call("bob", http.MethodPost, base+"/invitations/respond", RespondRequest{Accept: true}, nil); code != http.StatusOK {
		t.Fatalf("respond: %d", code)
	}
	if code := h.call("bob", http.MethodPost, base+"/join", nil, nil); code != http.StatusOK {
		t.Fatalf("join: %d", code)
	}
	if code := h.call("bob", http.MethodPost, base+"/join", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 on second join, got %d", code)
	}
	if code := h.call("alice", http.MethodPost, base+"/start", nil, &c); code != http.StatusOK || c.Status != competition.StatusActive {
		t.Fatalf("start: %d %s", code, c.Status)
	}

	var board LeaderboardResponse
	if code := h.call("carol", http.MethodGet, base+"/leaderboard?view=final", nil, &board); code != http.StatusOK {
		t.Fatalf("leaderboard: %d", code)
	}
	if board.View != "final" || len(board.Rankings) != 2 {
		t.Fatalf("unexpected final board %+v", board)
	}
	board = LeaderboardResponse{}
	h.call("carol", http.MethodGet, base+"/leaderboard", nil, &board)
	if board.View != "live" || len(board.Rankings) != 0 {
		t.Fatalf("expected empty live board before scores, got %+v", board)
	}

	if code := h.call("alice", http.MethodPost, base+"/end", nil, &c); code != http.StatusOK || c.Status != competition.StatusCompleted {
		t.Fatalf("end: %d %s", code, c.Status)
	}
	if code := h.call("alice", http.MethodPost, base+"/cancel", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a completed competition, got %d", code)
	}
}

func TestCompetitionErrorsOverHTTP(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if code := h.call("alice", http.MethodGet, "/api/v1/competitions/nope", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := h.call("alice", http.MethodPost, "/api/v1/competitions", map[string]int{"max_participants": 3}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without challenge, got %d", code)
	}
	var c competition.Competition
	h.call("alice", http.MethodPost, "/api/v1/competitions", CreateRequest{ChallengeID: "two-sum"}, &c)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/competitions/"+c.ID+"/start", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if code := h.call("alice", http.MethodPost, "/api/v1/competitions/"+c.ID+"/start", nil, nil); code != appErr.CompetitionNotEnoughJoin.HTTPStatus() {
		t.Fatalf("expected not-enough-join status, got %d", code)
	}
}

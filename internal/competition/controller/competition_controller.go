package controller

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"codearena/internal/common/http/middleware"
	"codearena/internal/competition"
	"codearena/internal/competition/service"
	"codearena/internal/leaderboard"
	"codearena/pkg/utils/response"
)

// CompetitionService is the lifecycle surface used by the HTTP layer.
type CompetitionService interface {
	Create(ctx context.Context, req service.CreateRequest) (*competition.Competition, error)
	Get(ctx context.Context, id string) (*competition.Competition, error)
	Invite(ctx context.Context, id, actorID, userID string) (*competition.Competition, error)
	Respond(ctx context.Context, id, userID string, accept bool) (*competition.Competition, error)
	Join(ctx context.Context, id, userID string) (*competition.Competition, error)
	Start(ctx context.Context, id, actorID string) (*competition.Competition, error)
	MarkSubmitted(ctx context.Context, id, userID string) (*competition.Competition, error)
	Complete(ctx context.Context, id, actorID string) (*competition.Competition, error)
	Cancel(ctx context.Context, id, actorID string) (*competition.Competition, error)
	Leaderboard(ctx context.Context, id string, view leaderboard.View) ([]leaderboard.Ranking, error)
}

// CompetitionController handles competition endpoints. Every route acts as
// the authenticated caller.
type CompetitionController struct {
	svc CompetitionService
}

func NewCompetitionController(svc CompetitionService) *CompetitionController {
	return &CompetitionController{svc: svc}
}

// CreateRequest defines competition creation payload.
type CreateRequest struct {
	ChallengeID        string     `json:"challenge_id" binding:"required"`
	MaxParticipants    int        `json:"max_participants"`
	TimeLimitMinutes   int        `json:"time_limit_minutes"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time"`
	Invitees           []string   `json:"invitees"`
}

type InviteRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type RespondRequest struct {
	Accept bool `json:"accept"`
}

// LeaderboardResponse wraps rankings with the view they were computed for.
type LeaderboardResponse struct {
	CompetitionID string                `json:"competition_id"`
	View          leaderboard.View      `json:"view"`
	Rankings      []leaderboard.Ranking `json:"rankings"`
}

func (h *CompetitionController) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	comp, err := h.svc.Create(c.Request.Context(), service.CreateRequest{
		CreatorID:          middleware.UserID(c),
		ChallengeID:        req.ChallengeID,
		MaxParticipants:    req.MaxParticipants,
		TimeLimitMinutes:   req.TimeLimitMinutes,
		ScheduledStartTime: req.ScheduledStartTime,
		Invitees:           req.Invitees,
	})
	reply(c, comp, err)
}

func (h *CompetitionController) Get(c *gin.Context) {
	comp, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	reply(c, comp, err)
}

func (h *CompetitionController) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	comp, err := h.svc.Invite(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.UserID)
	reply(c, comp, err)
}

func (h *CompetitionController) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	comp, err := h.svc.Respond(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Accept)
	reply(c, comp, err)
}

func (h *CompetitionController) Join(c *gin.Context) {
	comp, err := h.svc.Join(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	reply(c, comp, err)
}

func (h *CompetitionController) Start(c *gin.Context) {
	comp, err := h.svc.Start(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	reply(c, comp, err)
}

func (h *CompetitionController) MarkSubmitted(c *gin.Context) {
	comp, err := h.svc.MarkSubmitted(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	reply(c, comp, err)
}

func (h *CompetitionController) Complete(c *gin.Context) {
	comp, err := h.svc.Complete(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	reply(c, comp, err)
}

func (h *CompetitionController) Cancel(c *gin.Context) {
	comp, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	reply(c, comp, err)
}

// Leaderboard handles GET /:id/leaderboard?view=live|final.
func (h *CompetitionController) Leaderboard(c *gin.Context) {
	id := c.Param("id")
	view := leaderboard.ParseView(c.Query("view"))
	rankings, err := h.svc.Leaderboard(c.Request.Context(), id, view)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, LeaderboardResponse{CompetitionID: id, View: view, Rankings: rankings})
}

func reply(c *gin.Context, comp *competition.Competition, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, comp)
}

package controller

import (
	"context"

	"github.com/gin-gonic/gin"

	"codearena/internal/common/http/middleware"
	"codearena/internal/judge/service"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/response"
)

// SubmissionService is the judge surface used by the HTTP layer.
type SubmissionService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (string, error)
	GetStatus(ctx context.Context, submissionID, viewerID string) (service.Verdict, error)
	Cancel(ctx context.Context, submissionID string) error
}

// JudgeController handles submission intake and verdict queries.
type JudgeController struct {
	svc SubmissionService
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc SubmissionService) *JudgeController {
	return &JudgeController{svc: svc}
}

// SubmitRequest defines submission payload. The submitter is the token subject.
type SubmitRequest struct {
	ChallengeID   string `json:"challenge_id" binding:"required"`
	CompetitionID string `json:"competition_id"`
	Language      string `json:"language" binding:"required"`
	SourceCode    string `json:"source_code" binding:"required"`
}

// SubmitResponse carries the opaque id to poll.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
}

// Create accepts a submission and judges it asynchronously.
func (h *JudgeController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	id, err := h.svc.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:        middleware.UserID(c),
		ChallengeID:   req.ChallengeID,
		CompetitionID: req.CompetitionID,
		Language:      req.Language,
		SourceCode:    req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{SubmissionID: id})
}

// GetStatus returns the verdict read model. Hidden cases are redacted unless
// the caller owns the submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	verdict, err := h.svc.GetStatus(c.Request.Context(), submissionID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, verdict)
}

// Cancel stops the caller's own pending or running submission.
func (h *JudgeController) Cancel(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	viewer := middleware.UserID(c)
	verdict, err := h.svc.GetStatus(c.Request.Context(), submissionID, viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	if verdict.UserID != viewer {
		response.Error(c, appErr.New(appErr.Forbidden).WithMessage("only the submitter can cancel"))
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{SubmissionID: submissionID})
}

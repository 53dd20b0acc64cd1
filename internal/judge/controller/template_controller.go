package controller

import (
	"github.com/gin-gonic/gin"

	"codearena/internal/judge/challenge"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/template"
	"codearena/pkg/utils/response"
)

// TemplateController renders starter stubs.
type TemplateController struct {
	challenges challenge.Source
}

func NewTemplateController(challenges challenge.Source) *TemplateController {
	return &TemplateController{challenges: challenges}
}

// TemplateRequest names either a published challenge or an inline signature.
type TemplateRequest struct {
	Language    string                    `json:"language" binding:"required"`
	ChallengeID string                    `json:"challenge_id"`
	Function    *model.FunctionDescriptor `json:"function"`
}

type TemplateResponse struct {
	Language string `json:"language"`
	Template string `json:"template"`
}

// Generate handles POST /templates.
func (h *TemplateController) Generate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	l, err := lang.Parse(req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	var desc model.FunctionDescriptor
	switch {
	case req.Function != nil:
		desc = *req.Function
	case req.ChallengeID != "" && h.challenges != nil:
		ch, err := h.challenges.GetChallenge(c.Request.Context(), req.ChallengeID)
		if err != nil {
			response.Error(c, err)
			return
		}
		desc = ch.Function
	default:
		response.BadRequest(c, "challenge_id or function is required")
		return
	}
	stub, err := template.Generate(desc, l)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, TemplateResponse{Language: string(l), Template: stub})
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/mq"
	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

// VerdictEvent is the final verdict as published to downstream consumers.
// Source code and per-case output stay out of the event.
type VerdictEvent struct {
	SubmissionID  string       `json:"submissionId"`
	ChallengeID   string       `json:"challengeId"`
	CompetitionID string       `json:"competitionId,omitempty"`
	UserID        string       `json:"userId"`
	Status        model.Status `json:"status"`
	Score         int          `json:"score"`
	MaxPoints     int          `json:"maxPoints"`
	Passed        int          `json:"passed"`
	Total         int          `json:"total"`
	FinishedAt    time.Time    `json:"finishedAt"`
	CreatedAt     int64        `json:"createdAt"`
}

// StatusEventPublisher publishes final verdicts for async processing.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, sub *model.Submission) error
}

// MQStatusEventPublisher publishes verdict events to a message queue.
type MQStatusEventPublisher struct {
	queue mq.Producer
	topic string
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(queue mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic}
}

// PublishFinalStatus publishes a final verdict event keyed by submission id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, sub *model.Submission) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := VerdictEvent{
		SubmissionID:  sub.ID,
		ChallengeID:   sub.ChallengeID,
		CompetitionID: sub.CompetitionID,
		UserID:        sub.UserID,
		Status:        sub.Status,
		Score:         sub.Score,
		MaxPoints:     sub.MaxPoints,
		Passed:        sub.Passed(),
		Total:         len(sub.Results),
		FinishedAt:    sub.FinishedAt,
		CreatedAt:     time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = sub.ID
	message.SetHeader("status", string(sub.Status))
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}

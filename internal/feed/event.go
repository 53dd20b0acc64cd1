// Package feed fans competition events out to Kafka and WebSocket observers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/mq"
	appErr "codearena/pkg/errors"
)

// EventType names a live feed event.
type EventType string

const (
	EventParticipantJoined  EventType = "participantJoined"
	EventSubmissionUpdate   EventType = "submissionUpdate"
	EventCompetitionStarted EventType = "competitionStarted"
	EventCompetitionEnded   EventType = "competitionEnded"
)

// Event is one feed message. Data holds the type-specific payload.
type Event struct {
	Type          EventType       `json:"type"`
	CompetitionID string          `json:"competitionId"`
	Data          json.RawMessage `json:"data"`
	At            time.Time       `json:"at"`
}

type participantJoined struct {
	UserID string `json:"userId"`
}

type submissionUpdate struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
	Status string `json:"status"`
}

type competitionStarted struct {
	StartTime time.Time `json:"startTime"`
}

type competitionEnded struct {
	Winner string `json:"winner"`
}

func newEvent(t EventType, competitionID string, data any, at time.Time) Event {
	raw, _ := json.Marshal(data)
	return Event{Type: t, CompetitionID: competitionID, Data: raw, At: at}
}

func ParticipantJoined(competitionID, userID string, at time.Time) Event {
	return newEvent(EventParticipantJoined, competitionID, participantJoined{UserID: userID}, at)
}

func SubmissionUpdate(competitionID, userID string, score int, status string, at time.Time) Event {
	return newEvent(EventSubmissionUpdate, competitionID, submissionUpdate{UserID: userID, Score: score, Status: status}, at)
}

func CompetitionStarted(competitionID string, startTime time.Time) Event {
	return newEvent(EventCompetitionStarted, competitionID, competitionStarted{StartTime: startTime}, startTime)
}

func CompetitionEnded(competitionID, winner string, at time.Time) Event {
	return newEvent(EventCompetitionEnded, competitionID, competitionEnded{Winner: winner}, at)
}

// Publisher emits feed events. Delivery is best-effort and at-least-once.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// MQPublisher writes events to a topic keyed by competition id, so one
// competition's events keep their order within a partition.
type MQPublisher struct {
	queue mq.Producer
	topic string
}

func NewMQPublisher(queue mq.Producer, topic string) *MQPublisher {
	return &MQPublisher{queue: queue, topic: topic}
}

func (p *MQPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("feed publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("feed topic is required")
	}
	if ev.CompetitionID == "" {
		return appErr.ValidationError("competition_id", "required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feed event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = ev.CompetitionID
	message.SetHeader("type", string(ev.Type))
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish feed event failed")
	}
	return nil
}

// Multi publishes to every inner publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

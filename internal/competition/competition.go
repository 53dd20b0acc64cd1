// Package competition holds the competition and participant records.
package competition

import "time"

// Status is the lifecycle state of a competition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the competition accepts no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParticipantStatus tracks a user's relation to a competition.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantActive   ParticipantStatus = "active"
)

// Participant is one roster entry. Score only ever grows.
type Participant struct {
	UserID string            `json:"userId"`
	Status ParticipantStatus `json:"status"`
	Score  int               `json:"score"`
	// SubmissionTime is when the submission holding Score was made.
	SubmissionTime   *time.Time `json:"submissionTime,omitempty"`
	BestSubmissionID string     `json:"bestSubmissionId,omitempty"`
	Submitted        bool       `json:"submitted"`
	JoinedAt         *time.Time `json:"joinedAt,omitempty"`
}

// Competition is a timed contest over one challenge.
type Competition struct {
	ID                 string        `json:"id"`
	ChallengeID        string        `json:"challengeId"`
	CreatorID          string        `json:"creatorId"`
	Status             Status        `json:"status"`
	Participants       []Participant `json:"participants"`
	MaxParticipants    int           `json:"maxParticipants"`
	TimeLimitMinutes   int           `json:"timeLimitMinutes"`
	ScheduledStartTime *time.Time    `json:"scheduledStartTime,omitempty"`
	ActualStartTime    *time.Time    `json:"actualStartTime,omitempty"`
	ActualEndTime      *time.Time    `json:"actualEndTime,omitempty"`
	WinnerID           string        `json:"winnerId,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	// Version increments on every stored update.
	Version int64 `json:"version"`
}

// Participant returns the roster entry of userID.
func (c *Competition) Participant(userID string) (*Participant, bool) {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i], true
		}
	}
	return nil, false
}

// ActiveCount counts participants that entered the competition.
func (c *Competition) ActiveCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantActive {
			n++
		}
	}
	return n
}

// Deadline is ActualStartTime plus the time limit, or nil before start.
func (c *Competition) Deadline() *time.Time {
	if c.ActualStartTime == nil || c.TimeLimitMinutes <= 0 {
		return nil
	}
	d := c.ActualStartTime.Add(time.Duration(c.TimeLimitMinutes) * time.Minute)
	return &d
}

// AllSubmitted reports whether every active participant has submitted.
func (c *Competition) AllSubmitted() bool {
	active := 0
	for _, p := range c.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		active++
		if !p.Submitted {
			return false
		}
	}
	return active > 0
}

// Clone returns a deep copy.
func (c *Competition) Clone() *Competition {
	cp := *c
	cp.Participants = make([]Participant, len(c.Participants))
	for i, p := range c.Participants {
		cp.Participants[i] = p
		cp.Participants[i].SubmissionTime = cloneTime(p.SubmissionTime)
		cp.Participants[i].JoinedAt = cloneTime(p.JoinedAt)
	}
	cp.ScheduledStartTime = cloneTime(c.ScheduledStartTime)
	cp.ActualStartTime = cloneTime(c.ActualStartTime)
	cp.ActualEndTime = cloneTime(c.ActualEndTime)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

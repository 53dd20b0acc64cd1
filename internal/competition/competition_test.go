package competition

import (
	"testing"
	"time"
)

func TestCompetitionHelpers(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &Competition{
		TimeLimitMinutes: 30,
		Participants: []Participant{
			{UserID: "a", Status: ParticipantActive, Submitted: true},
			{UserID: "b", Status: ParticipantInvited},
			{UserID: "c", Status: ParticipantActive},
		},
	}
	if c.Deadline() != nil {
		t.Fatalf("expected no deadline before start")
	}
	c.ActualStartTime = &start
	if d := c.Deadline(); d == nil || !d.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("unexpected deadline %v", d)
	}
	if c.ActiveCount() != 2 || c.AllSubmitted() {
		t.Fatalf("unexpected roster state")
	}
	c.Participants[2].Submitted = true
	if !c.AllSubmitted() {
		t.Fatalf("expected all active participants submitted")
	}

	cp := c.Clone()
	cp.Participants[0].Score = 99
	*cp.ActualStartTime = start.Add(time.Hour)
	if c.Participants[0].Score != 0 || !c.ActualStartTime.Equal(start) {
		t.Fatalf("clone shares state with the original")
	}
	if p, ok := c.Participant("b"); !ok || p.Status != ParticipantInvited {
		t.Fatalf("lookup failed")
	}
	if !StatusCompleted.Terminal() || StatusActive.Terminal() {
		t.Fatalf("unexpected terminal states")
	}
}

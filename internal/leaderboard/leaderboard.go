// Package leaderboard derives rankings from competition participants.
package leaderboard

import (
	"sort"
	"time"

	"codearena/internal/competition"
)

// View selects which participants are ranked.
type View string

const (
	// ViewLive ranks participants that scored so far.
	ViewLive View = "live"
	// ViewFinal ranks the whole roster, including users who never joined.
	ViewFinal View = "final"
)

// ParseView maps a query value to a view, defaulting to live.
func ParseView(s string) View {
	if s == string(ViewFinal) {
		return ViewFinal
	}
	return ViewLive
}

// Ranking is one leaderboard row.
type Ranking struct {
	UserID           string                        `json:"userId"`
	Status           competition.ParticipantStatus `json:"status"`
	Rank             int                           `json:"rank"`
	Score            int                           `json:"score"`
	TimeTakenSeconds int64                         `json:"timeTakenSeconds"`
}

// Rank orders participants by score descending, then submission time
// ascending, then user id. Rank is the 1-based position, so ties on score and
// time still get distinct ranks. startedAt anchors TimeTakenSeconds.
func Rank(participants []competition.Participant, view View, startedAt *time.Time) []Ranking {
	rows := make([]competition.Participant, 0, len(participants))
	for _, p := range participants {
		if view == ViewLive && p.Score <= 0 {
			continue
		}
		rows = append(rows, p)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ta, tb := submitted(a), submitted(b); !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.UserID < b.UserID
	})

	out := make([]Ranking, len(rows))
	for i, p := range rows {
		out[i] = Ranking{
			UserID:           p.UserID,
			Status:           p.Status,
			Rank:             i + 1,
			Score:            p.Score,
			TimeTakenSeconds: timeTaken(p, startedAt),
		}
	}
	return out
}

// Winner is the first active entry of the final view, or "" when nobody
// joined.
func Winner(participants []competition.Participant, startedAt *time.Time) string {
	for _, r := range Rank(participants, ViewFinal, startedAt) {
		if r.Status == competition.ParticipantActive {
			return r.UserID
		}
	}
	return ""
}

// never sorts after any real submission time.
var never = time.Unix(1<<62, 0)

func submitted(p competition.Participant) time.Time {
	if p.SubmissionTime == nil {
		return never
	}
	return *p.SubmissionTime
}

func timeTaken(p competition.Participant, startedAt *time.Time) int64 {
	if p.SubmissionTime == nil || startedAt == nil {
		return 0
	}
	d := p.SubmissionTime.Sub(*startedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

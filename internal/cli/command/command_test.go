package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildSubmitCreateWithSourceFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "solution.py")
	if err := os.WriteFile(sourcePath, []byte("def twoSum(nums, target):\n    return [0, 1]\n"), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := Registry()["submit create"]
	params, err := ParseArgs([]string{"challenge=two-sum", "lang=python", "file=" + sourcePath, "cid=c-1"})
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	ApplyShortcuts(cmd, params)
	for _, f := range cmd.Fields {
		if f.Required && !Satisfied(f, params) {
			t.Fatalf("expected %s satisfied by shortcuts", f.Name)
		}
	}
	req, err := BuildRequest(cmd, params, time.Now())
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["source_code"] != "def twoSum(nums, target):\n    return [0, 1]\n" {
		t.Fatalf("expected file contents as source, got %v", payload["source_code"])
	}
	if payload["challenge_id"] != "two-sum" || payload["competition_id"] != "c-1" || payload["language"] != "python" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["source_file"]; ok {
		t.Fatalf("expected source_file to stay client side")
	}
}

func TestBuildCompetitionCreateTypesFields(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	params, _ := ParseArgs([]string{"challenge_id=two-sum", "max=4", "start=+5m", "invitees=bob, carol,"})
	req, err := BuildRequest(Registry()["competition create"], params, now)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload struct {
		ChallengeID string    `json:"challenge_id"`
		Max         int       `json:"max_participants"`
		Start       time.Time `json:"scheduled_start_time"`
		Invitees    []string  `json:"invitees"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Max != 4 || !payload.Start.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Invitees) != 2 || payload.Invitees[1] != "carol" {
		t.Fatalf("unexpected invitees %v", payload.Invitees)
	}

	bad, _ := ParseArgs([]string{"challenge_id=x", "max=many"})
	if _, err := BuildRequest(Registry()["competition create"], bad, now); err == nil {
		t.Fatalf("expected invalid int to fail")
	}
}

func TestBuildPathAndQuery(t *testing.T) {
	t.Parallel()
	params, _ := ParseArgs([]string{"cid=c 1", "view=final"})
	req, err := BuildRequest(Registry()["competition leaderboard"], params, time.Now())
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/competitions/c%201/leaderboard?view=final" || req.Body != nil {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := BuildRequest(Registry()["competition get"], Params{}, time.Now()); err == nil {
		t.Fatalf("expected missing id to fail")
	}

	respond, _ := ParseArgs([]string{"id=c1", "accept=yes"})
	if _, err := BuildRequest(Registry()["competition respond"], respond, time.Now()); err == nil {
		t.Fatalf("expected invalid bool to fail")
	}
}

func TestParseArgsRejectsBareTokens(t *testing.T) {
	t.Parallel()
	if _, err := ParseArgs([]string{"id"}); err == nil {
		t.Fatalf("expected bare token to fail")
	}
	if _, err := ParseArgs([]string{"=x"}); err == nil {
		t.Fatalf("expected empty key to fail")
	}
}

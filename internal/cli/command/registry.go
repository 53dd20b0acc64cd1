package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var idField = Field{Name: "id", Prompt: "id", Type: FieldString, Required: true}

func competitionIDField() Field {
	return Field{Name: "id", Aliases: []string{"competition_id", "cid"}, Prompt: "competition_id", Type: FieldString, Required: true}
}

// Registry returns all commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "template",
			Action:       "generate",
			Method:       "POST",
			PathTemplate: "/api/v1/templates",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "challenge_id", Aliases: []string{"challenge"}, Prompt: "challenge_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "challenge_id", Aliases: []string{"challenge"}, Prompt: "challenge_id", Type: FieldString, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile},
				{Name: "competition_id", Aliases: []string{"cid"}, Prompt: "competition_id", Type: FieldString},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields:       []Field{idField},
		},
		{
			Service:      "submit",
			Action:       "cancel",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/:id/cancel",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Service:      "competition",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/competitions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "challenge_id", Aliases: []string{"challenge"}, Prompt: "challenge_id", Type: FieldString, Required: true},
				{Name: "max_participants", Aliases: []string{"max"}, Prompt: "max_participants", Type: FieldInt},
				{Name: "time_limit_minutes", Aliases: []string{"minutes"}, Prompt: "time_limit_minutes", Type: FieldInt},
				{Name: "scheduled_start_time", Aliases: []string{"start"}, Prompt: "scheduled_start_time (RFC3339 or +duration)", Type: FieldTime},
				{Name: "invitees", Prompt: "invitees (comma-separated)", Type: FieldStringList},
			},
		},
		{
			Service:      "competition",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/competitions/:id",
			Fields:       []Field{competitionIDField()},
		},
		{
			Service:      "competition",
			Action:       "invite",
			Method:       "POST",
			PathTemplate: "/api/v1/competitions/:id/invitations",
			RequiresAuth: true,
			Fields: []Field{
				competitionIDField(),
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "competition",
			Action:       "respond",
			Method:       "POST",
			PathTemplate: "/api/v1/competitions/:id/invitations/respond",
			RequiresAuth: true,
			Fields: []Field{
				competitionIDField(),
				{Name: "accept", Prompt: "accept (true/false)", Type: FieldBool, Required: true},
			},
		},
		{Service: "competition", Action: "join", Method: "POST", PathTemplate: "/api/v1/competitions/:id/join", RequiresAuth: true, Fields: []Field{competitionIDField()}},
		{Service: "competition", Action: "start", Method: "POST", PathTemplate: "/api/v1/competitions/:id/start", RequiresAuth: true, Fields: []Field{competitionIDField()}},
		{Service: "competition", Action: "done", Method: "POST", PathTemplate: "/api/v1/competitions/:id/submit", RequiresAuth: true, Fields: []Field{competitionIDField()}},
		{Service: "competition", Action: "end", Method: "POST", PathTemplate: "/api/v1/competitions/:id/end", RequiresAuth: true, Fields: []Field{competitionIDField()}},
		{Service: "competition", Action: "cancel", Method: "POST", PathTemplate: "/api/v1/competitions/:id/cancel", RequiresAuth: true, Fields: []Field{competitionIDField()}},
		{
			Service:      "competition",
			Action:       "leaderboard",
			Method:       "GET",
			PathTemplate: "/api/v1/competitions/:id/leaderboard",
			Fields: []Field{
				competitionIDField(),
				{Name: "view", Prompt: "view (live|final)", Type: FieldString, InQuery: true},
			},
		},
		{
			Service:      "competition",
			Action:       "watch",
			Method:       "GET",
			PathTemplate: "/api/v1/competitions/:id/feed",
			Fields:       []Field{competitionIDField()},
			Stream:       true,
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys returns the registry keys in a stable order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for k := range commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates the HTTP request for cmd. now resolves relative times.
func BuildRequest(cmd Command, params Params, now time.Time) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := BuildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params, now)
		if err != nil {
			return RequestSpec{}, err
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}
	return RequestSpec{Method: cmd.Method, Path: path, Body: body}, nil
}

// BuildPath expands path parameters and appends query fields.
func BuildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", url.PathEscape(value))
	}
	query := url.Values{}
	for _, field := range cmd.Fields {
		if field.InQuery && params.Get(field.Name) != "" {
			query.Set(field.Name, params.Get(field.Name))
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

func buildPayload(cmd Command, params Params, now time.Time) (interface{}, error) {
	payload := map[string]interface{}{}
	for _, field := range cmd.Fields {
		if field.Name == "id" || field.InQuery || field.Type == FieldFile {
			continue
		}
		raw := params.Get(field.Name)
		if raw == "" || raw == fileMarker {
			continue
		}
		switch field.Type {
		case FieldInt:
			n, err := ParseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = n
		case FieldBool:
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = b
		case FieldTime:
			t, err := ParseTime(raw, now)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = t
		case FieldStringList:
			payload[field.Name] = ParseStringList(raw)
		default:
			payload[field.Name] = raw
		}
	}
	if cmd.Key() == "submit create" {
		source, err := resolveSource(params)
		if err != nil {
			return nil, err
		}
		payload["source_code"] = source
	}
	return payload, nil
}

const fileMarker = "_file_"

// ApplyShortcuts fills fields that another flag satisfies.
func ApplyShortcuts(cmd Command, params Params) {
	params.Canonicalize(cmd.Fields)
	if cmd.Key() == "submit create" && params.Get("source_file") != "" && params.Get("source_code") == "" {
		params.Set("source_code", fileMarker)
	}
}

// Satisfied reports whether field already has a usable value.
func Satisfied(field Field, params Params) bool {
	return params.Get(field.Name) != ""
}

func resolveSource(params Params) (string, error) {
	source := params.Get("source_code")
	if (source == "" || source == fileMarker) && params.Get("source_file") != "" {
		data, err := ReadFile(params.Get("source_file"))
		if err != nil {
			return "", err
		}
		source = data
	}
	if source == "" || source == fileMarker {
		return "", fmt.Errorf("source_code is required")
	}
	return source, nil
}

// ParseTime accepts RFC3339 or a "+duration" offset from now.
func ParseTime(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "+") {
		d, err := time.ParseDuration(raw[1:])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

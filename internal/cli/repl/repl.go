package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"codearena/internal/cli/command"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/state"
)

const defaultPrompt = "arena> "

// TokenIssuer mints access tokens for `login`.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
}

// Options configures a Session.
type Options struct {
	StatePath  string
	PrettyJSON bool
	Issuer     TokenIssuer
	TokenTTL   time.Duration
	Now        func() time.Time
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	commands map[string]command.Command
	session  *state.Session
	opts     Options
	out      io.Writer
	// ask reads one answer for a missing field.
	ask func(label string) (string, error)
}

func New(client *httpclient.Client, commands map[string]command.Command, session *state.Session, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		client:   client,
		commands: commands,
		session:  session,
		opts:     opts,
		out:      os.Stdout,
	}
}

// Run reads lines until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          defaultPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.out = rl.Stdout()
	s.ask = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(defaultPrompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		done, err := s.Execute(ctx, strings.TrimSpace(line))
		if err != nil {
			s.printLine("error: %v", err)
		}
		if done {
			return nil
		}
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	byService := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, ok := byService[cmd.Service]; !ok {
			services = append(services, cmd.Service)
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("login"),
		readline.PcItem("logout"),
		readline.PcItem("whoami"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
	}
	for _, svc := range services {
		items = append(items, readline.PcItem(svc, byService[svc]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Execute runs one input line. done is true when the user asked to leave.
func (s *Session) Execute(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "set":
		return false, s.handleSet(tokens[1:])
	case "login":
		return false, s.handleLogin(tokens[1:])
	case "logout":
		*s.session = state.Session{}
		return false, state.Clear(s.opts.StatePath)
	case "whoami":
		s.handleWhoami()
		return false, nil
	}
	return false, s.handleCommand(ctx, tokens)
}

func (s *Session) handleSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set base|timeout|token <value>")
	}
	switch args[0] {
	case "base":
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		s.session.AccessToken = args[1]
		s.session.ExpiresAt = time.Time{}
		if err := state.Save(s.opts.StatePath, *s.session); err != nil {
			return err
		}
		s.printLine("token updated")
	default:
		return fmt.Errorf("unknown set command %q", args[0])
	}
	return nil
}

func (s *Session) handleLogin(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: login <user_id>")
	}
	if s.opts.Issuer == nil {
		return fmt.Errorf("login needs auth.secret in the arenactl config; use `set token` instead")
	}
	token, err := s.opts.Issuer.Issue(args[0], s.opts.TokenTTL)
	if err != nil {
		return fmt.Errorf("issue token failed: %w", err)
	}
	*s.session = state.Session{
		UserID:      args[0],
		AccessToken: token,
		ExpiresAt:   s.opts.Now().Add(s.opts.TokenTTL),
	}
	if err := state.Save(s.opts.StatePath, *s.session); err != nil {
		return err
	}
	s.printLine("logged in as %s until %s", args[0], s.session.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (s *Session) handleWhoami() {
	switch {
	case s.session.AccessToken == "":
		s.printLine("anonymous")
	case s.session.Expired(s.opts.Now()):
		s.printLine("%s (token expired)", s.session.UserID)
	case s.session.UserID == "":
		s.printLine("token set, user unknown")
	default:
		s.printLine("%s", s.session.UserID)
	}
}

func (s *Session) handleCommand(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	command.ApplyShortcuts(cmd, params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	if cmd.RequiresAuth && s.session.AccessToken == "" {
		s.printLine("warning: no token set, the server will likely refuse this")
	}
	if cmd.Stream {
		return s.watch(ctx, cmd, params)
	}
	req, err := command.BuildRequest(cmd, params, s.opts.Now())
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || command.Satisfied(field, params) {
			continue
		}
		if s.ask == nil {
			return fmt.Errorf("missing required param: %s", field.Name)
		}
		value, err := s.ask(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

// watch prints feed events until interrupted or the optional for= window ends.
func (s *Session) watch(ctx context.Context, cmd command.Command, params command.Params) error {
	path, err := command.BuildPath(cmd, params)
	if err != nil {
		return err
	}
	watchCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if raw := params.Get("for"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid for: %w", err)
		}
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(watchCtx, d)
		defer cancel()
	}
	s.printLine("watching %s (Ctrl-C to stop)", params.Get("id"))
	return s.client.Watch(watchCtx, path, func(frame []byte) {
		s.printJSON(frame)
	})
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	s.printJSON(resp.Body)
}

func (s *Session) printJSON(body []byte) {
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(body))
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | login <user_id> | logout | whoami | set base|timeout|token <value>")
	s.printLine("commands:")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %s", key)
	}
	s.printLine("examples:")
	s.printLine("  template generate language=python challenge_id=two-sum")
	s.printLine("  submit create challenge_id=two-sum language=python file=./solution.py cid=<competition>")
	s.printLine("  competition create challenge_id=two-sum invitees=bob,carol start=+5m")
	s.printLine("  competition leaderboard id=<competition> view=final")
	s.printLine("  competition watch id=<competition> for=10m")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

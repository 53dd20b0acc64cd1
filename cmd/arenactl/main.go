package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"codearena/internal/cli/command"
	"codearena/internal/cli/config"
	httpclient "codearena/internal/cli/http"
	"codearena/internal/cli/repl"
	"codearena/internal/cli/state"
	"codearena/internal/common/http/middleware"
)

const defaultConfigPath = "configs/arenactl.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		session.AccessToken = *token
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return session.AccessToken
	})

	opts := repl.Options{
		StatePath:  cfg.StatePath,
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		TokenTTL:   cfg.Auth.TokenTTL,
	}
	if cfg.Auth.Secret != "" {
		opts.Issuer = middleware.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	}

	// One-shot mode: remaining args form a single command line.
	s := repl.New(client, command.Registry(), &session, opts)
	if args := flag.Args(); len(args) > 0 {
		if _, err := s.Execute(context.Background(), shellJoin(args)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := s.Run(context.Background(), cfg.HistoryFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// shellJoin quotes args so shlex splits them back unchanged.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
	}
	return strings.Join(quoted, " ")
}

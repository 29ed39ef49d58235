package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"taskbot/internal/bootstrap"
	"taskbot/internal/config"
)

func main() {
	var (
		configPath string
		transport  string
		locale     string
		initConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.StringVar(&transport, "transport", "", "Chat surface: repl, tui or http")
	flag.StringVar(&locale, "lang", "", "Message language: en or ru")
	flag.BoolVar(&initConfig, "init", false, "Write .taskbot/config.json in the current directory and exit")
	flag.Parse()

	if initConfig {
		path, err := config.InitProjectConfigScaffold("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "init config failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("config: %s\n", path)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(&cfg, transport, locale); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}
	runErr := res.Run(ctx)
	if err := res.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "taskbot stopped: %v\n", runErr)
		os.Exit(1)
	}
}

// applyFlags lets command-line flags win over every config layer.
func applyFlags(cfg *config.Config, transport, locale string) error {
	if kind := strings.ToLower(strings.TrimSpace(transport)); kind != "" {
		switch kind {
		case config.TransportREPL, config.TransportTUI, config.TransportHTTP:
			cfg.Transport.Kind = kind
		default:
			return fmt.Errorf("invalid -transport %q (want repl, tui or http)", transport)
		}
	}
	if l := strings.TrimSpace(locale); l != "" {
		cfg.Locale = l
	}
	return nil
}

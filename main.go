package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quasar/mcauth/internal/account"
	"github.com/quasar/mcauth/internal/app"
	"github.com/quasar/mcauth/internal/auth"
	"github.com/quasar/mcauth/internal/config"
	"github.com/quasar/mcauth/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing data dir: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the TUI, so logs go to a file
	log := logging.NewFileLogger(cfg.LogLevel, cfg.DataDir)

	store := account.NewStore(cfg.DataDir)
	if err := store.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load accounts, starting empty")
	}

	margin := time.Duration(cfg.RefreshMarginMinutes) * time.Minute
	client := auth.NewClient(cfg.MSAClientID, log)
	orch := auth.NewOrchestrator(client, store, auth.Options{
		OAuthPort:     cfg.OAuthPort,
		RedirectURI:   cfg.RedirectURI(),
		RefreshMargin: margin,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresher := auth.NewRefresher(orch, store, margin, log)
	refresher.Start(ctx)
	defer refresher.Stop()

	p := tea.NewProgram(
		app.New(orch),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

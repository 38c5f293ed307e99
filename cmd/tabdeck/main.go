package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/tabdeck/tabdeck/internal/config"
	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/snapshot"
	"github.com/tabdeck/tabdeck/internal/statedb"
	"github.com/tabdeck/tabdeck/internal/stats"
	"github.com/tabdeck/tabdeck/internal/tabs"
	"github.com/tabdeck/tabdeck/internal/transport"
	"github.com/tabdeck/tabdeck/internal/ui"
)

// Version is set at build time via -ldflags
var Version = "dev"

// initColorProfile configures the lipgloss color profile.
// Prefers TrueColor, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// User override: TABDECK_COLOR = truecolor, 256, 16, none
	if colorEnv := os.Getenv("TABDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if colorTerm := os.Getenv("COLORTERM"); colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	termName := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	remote := flag.String("remote", "", "remote backend base URL (e.g. ws://host:8420); empty runs sessions locally")
	token := flag.String("token", "", "bearer token for the remote backend")
	noRestore := flag.Bool("no-restore", false, "skip restoring tabs from the last run")
	pushKey := flag.Bool("push-key", false, "print the web-push VAPID public key and exit")
	pushSubscribe := flag.String("push-subscribe", "", "import a web-push subscription from a JSON file and exit")
	pushUnsubscribe := flag.String("push-unsubscribe", "", "remove a web-push subscription by endpoint and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tabdeck v%s\n", Version)
		return
	}

	if *pushKey || *pushSubscribe != "" || *pushUnsubscribe != "" {
		if err := runPushCommand(*pushKey, *pushSubscribe, *pushUnsubscribe); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "tabdeck must run in a terminal")
		os.Exit(1)
	}

	if err := run(*remote, *token, *noRestore); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(remote, token string, noRestore bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	initLogging(cfg, dataDir)
	defer logging.Shutdown()
	mainLog := logging.ForComponent(logging.CompUI)
	mainLog.Info("tabdeck_started",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()))

	// SIGUSR1 dumps the log ring buffer for post-mortem debugging
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(dataDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				mainLog.Error("crash_dump_failed", slog.String("error", err.Error()))
			} else {
				mainLog.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	db, err := statedb.Open(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}

	snapshots := snapshot.NewStore(db)
	if err := snapshots.MigrateLegacy(dataDir); err != nil {
		mainLog.Warn("legacy_snapshot_migration_failed", slog.String("error", err.Error()))
	}

	tr := buildTransport(cfg, remote, token)
	defer tr.Shutdown()

	focus := stats.NewFocusTracker(db)
	defer focus.Flush()
	observers := []tabs.Observer{focus}

	var notifier *stats.PushNotifier
	if cfg.Push.Enabled {
		notifier, err = stats.NewPushNotifier(db, dataDir, cfg.Push.Subject)
		if err != nil {
			mainLog.Warn("push_notifier_disabled", slog.String("error", err.Error()))
		} else {
			observers = append(observers, notifier)
		}
	}

	registry := tabs.NewRegistry(tabs.Options{
		Transport: tr,
		Snapshots: snapshots,
		Observers: observers,
		Settings: func() tabs.Settings {
			c, err := config.Load()
			if err != nil {
				return tabs.Settings{RestoreTabs: true, ConfirmClose: true}
			}
			return tabs.Settings{
				RestoreTabs:  c.RestoreTabs && !noRestore,
				ConfirmClose: c.ConfirmClose,
			}
		},
		OnExit: func(tab tabs.Tab) {
			if notifier != nil {
				notifier.SessionExited(tab.ID, tab.Name, tab.ExitCode)
			}
		},
	})

	initColorProfile()
	ui.InitTheme(cfg.Theme)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	themeCh, stopTheme := ui.WatchSystemTheme(ctx)
	defer stopTheme()
	configWatcher := config.NewWatcher()
	if configWatcher != nil {
		defer configWatcher.Close()
	}

	registry.RestoreTabs()

	model := ui.NewModel(ctx, registry, themeCh, configWatcher)
	model.AttachSurfaces()

	p := tea.NewProgram(model, tea.WithAltScreen())
	model.SetSend(p.Send)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		p.Quit()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	mainLog.Info("tabdeck_stopped")
	return nil
}

// runPushCommand manages web-push subscriptions from the command line: the
// public key goes to the subscribing client, and the subscription JSON the
// client produces comes back in through -push-subscribe.
func runPushCommand(printKey bool, subscribeFile, unsubscribeEndpoint string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	db, err := statedb.Open(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state db: %w", err)
	}

	notifier, err := stats.NewPushNotifier(db, dataDir, cfg.Push.Subject)
	if err != nil {
		return err
	}

	switch {
	case printKey:
		fmt.Println(notifier.PublicKey())
	case subscribeFile != "":
		data, err := os.ReadFile(subscribeFile)
		if err != nil {
			return fmt.Errorf("read subscription file: %w", err)
		}
		if err := notifier.SubscribeFromJSON(data); err != nil {
			return err
		}
		fmt.Println("subscription saved")
	case unsubscribeEndpoint != "":
		if err := notifier.Unsubscribe(unsubscribeEndpoint); err != nil {
			return err
		}
		fmt.Println("subscription removed")
	}
	return nil
}

func initLogging(cfg *config.Config, dataDir string) {
	logCfg := logging.Config{
		Debug:      os.Getenv("TABDECK_DEBUG") != "",
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 5,
	}
	if logCfg.Debug {
		logCfg.LogDir = dataDir
		logCfg.Level = "debug"
	}
	if cfg.Logs.Level != "" {
		logCfg.Level = cfg.Logs.Level
	}
	if cfg.Logs.Format != "" {
		logCfg.Format = cfg.Logs.Format
	}
	if cfg.Logs.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = cfg.Logs.MaxSizeMB
	}
	if cfg.Logs.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.Logs.MaxBackups
	}
	logging.Init(logCfg)
}

// buildTransport picks the session backend: a remote websocket backend when
// one is configured, the local pty backend otherwise.
func buildTransport(cfg *config.Config, remote, token string) transport.Transport {
	url := remote
	if url == "" && cfg.Transport.GetMode() == "remote" {
		url = cfg.Transport.RemoteURL
	}
	if url != "" {
		if token == "" {
			token = cfg.Transport.AuthToken
		}
		return transport.NewWSTransport(url, token, cfg.Transport.GetInputRate())
	}
	return transport.NewPTYTransport(cfg.Shell)
}

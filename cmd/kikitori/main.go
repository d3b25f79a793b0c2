package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	configloader "github.com/foxseedlab/kikitori/external/config"
	"github.com/foxseedlab/kikitori/external/discord"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/app"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
)

func main() {
	listDevices := flag.Bool("list-devices", false, "list audio input devices and exit")
	flag.Parse()

	if *listDevices {
		printInputDevices()
		return
	}

	cfg := mustLoadConfig()
	logFile := initLogger(cfg)
	defer logFile.Close()
	slog.Info("startup: configuration loaded", "env", cfg.Env, "transcriber", cfg.Transcriber, "audio_source", cfg.AudioSource)

	injector := setupDI(cfg)
	client, err := do.Invoke[*session.Client](injector)
	if err != nil {
		slog.Error("failed to resolve session client", "error", err)
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	observer := app.NewEventObserver()
	client.SetObserver(observer)

	model := app.NewModel(client, observer.Events(), sessionLabel(cfg))
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		slog.Error("tui exited with error", "error", err)
	}
	observer.Close()

	slog.Info("shutting down")
	client.Disconnect()
	client.Wait()
	if cfg.OutputsEnabled() {
		repo := do.MustInvoke[repository.Repository](injector)
		if err := repo.Close(); err != nil {
			slog.Error("failed to close repository", "error", err)
		}
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// initLogger sends logs to cfg.LogFile since the terminal belongs to the TUI.
func initLogger(cfg *config.Config) *os.File {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.LogFile, err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: logLevel})))
	return f
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func sessionLabel(cfg *config.Config) string {
	model := cfg.DeepgramModel
	if cfg.Transcriber == config.TranscriberGoogle {
		model = cfg.GoogleCloudSpeechModel
	}
	return fmt.Sprintf("%s %s (%s)", cfg.Transcriber, model, cfg.TranscribeLanguage)
}

func printInputDevices() {
	devices, err := audioimpl.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list devices: %v\n", err)
		os.Exit(1)
	}
	if len(devices) == 0 {
		fmt.Println("no input devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%3d  %s (%d ch, %.0f Hz)\n", d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	fmt.Printf("\nset AUDIO_DEVICE_ID to one of the IDs above; %d selects the default device\n", config.AudioDeviceDefault)
}

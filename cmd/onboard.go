package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/engine"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	path := cfgFile
	if path == "" {
		var err error
		path, err = config.HomeConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if _, err := os.Stat(config.ExpandHome(path)); err == nil {
		fmt.Printf("Config already exists at %s — saving will overwrite it.\n\n", path)
	}

	cfg := config.Default()
	var (
		botToken string
		chatID   string
		engineID = cfg.DefaultEngine
		voiceOn  bool
	)

	engineOpts := make([]huh.Option[string], 0, len(engine.Names()))
	for _, name := range engine.Names() {
		engineOpts = append(engineOpts, huh.NewOption(name, name))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Saved with mode 0600; TAKO_TELEGRAM_BOT_TOKEN overrides it.").
				EchoMode(huh.EchoModePassword).
				Value(&botToken).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("the bot token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Chat id").
				Description("The single chat the bridge serves.").
				Value(&chatID).
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
						return errors.New("enter a numeric chat id")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Default engine").
				Options(engineOpts...).
				Value(&engineID),
			huh.NewConfirm().
				Title("Enable voice transcription?").
				Description("Needs a speech-to-text API key (TAKO_VOICE_API_KEY).").
				Value(&voiceOn),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Onboarding aborted: %v\n", err)
		os.Exit(1)
	}

	cfg.Transports.Telegram.BotToken = strings.TrimSpace(botToken)
	cfg.Transports.Telegram.ChatID, _ = strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	cfg.Transports.Telegram.VoiceTranscription = voiceOn
	cfg.DefaultEngine = engineID

	if err := config.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config saved to %s\n", path)
	fmt.Println("Start the bridge with: tako")
}

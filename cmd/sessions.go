package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/sessions"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions for the configured chat",
		Run: func(cmd *cobra.Command, args []string) {
			runSessions()
		},
	}
}

func runSessions() {
	cfg, cfgPath, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	store := sessions.New(sessions.ResolvePath(cfgPath))

	key := chatKeyFor(cfg)
	list := store.ListSessions(key, "")
	if len(list) == 0 {
		fmt.Println("no sessions stored.")
		return
	}
	for _, s := range list {
		marker := " "
		if store.ActiveSessionID(key, s.Engine) == s.Resume {
			marker = "*"
		}
		fmt.Printf("%s %-8s %-10s %s\n", marker, s.Engine, sessions.ShortID(s.Resume), s.Label())
	}
}

// chatKeyFor mirrors how the bridge keys the configured chat so the CLI
// lists the same sessions the chat sees.
func chatKeyFor(cfg *config.Config) sessions.ChatKey {
	if cfg.Transport == "discord" {
		if id, err := strconv.ParseInt(cfg.Transports.Discord.ChannelID, 10, 64); err == nil {
			return sessions.ChatKey{ChatID: id}
		}
		return sessions.ChatKey{}
	}
	return sessions.ChatKey{ChatID: cfg.Transports.Telegram.ChatID}
}

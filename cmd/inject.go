package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/inject"
)

func injectCmd() *cobra.Command {
	var newSession bool
	cmd := &cobra.Command{
		Use:   "inject \"text\"",
		Short: "Queue a system message for the running bridge",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runInject(strings.Join(args, " "), newSession)
		},
	}
	cmd.Flags().BoolVar(&newSession, "new-session", false, "start a fresh session before the injected prompt")
	return cmd
}

func runInject(text string, newSession bool) {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dir, err := cfg.InjectDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path, err := inject.Spool(dir, text, newSession)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("queued %s\n", path)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/events"
	"github.com/takohq/tako/internal/logging"
	"github.com/takohq/tako/internal/render"
	"github.com/takohq/tako/internal/sessions"
)

// cliKey scopes terminal runs; every `tako exec` shares one pseudo-chat in
// the session store, separate from any real chat.
var cliKey = sessions.ChatKey{}

func execCmd() *cobra.Command {
	var (
		engineName string
		resumeID   string
		last       bool
	)
	cmd := &cobra.Command{
		Use:   "exec \"prompt\"",
		Short: "Run one prompt in the terminal",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runExec(engineName, resumeID, last, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&engineName, "engine", "e", "", "engine to run (default: config default_engine)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume the session with this id")
	cmd.Flags().BoolVar(&last, "last", false, "resume the most recent terminal session")
	return cmd
}

func runExec(engineName, resumeID string, last bool, prompt string) {
	logging.Setup(verbose)

	cfg, cfgPath, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if engineName == "" {
		engineName = cfg.DefaultEngine
	}

	store := sessions.New(sessions.ResolvePath(cfgPath))

	var resume *events.ResumeToken
	switch {
	case resumeID != "":
		resume = &events.ResumeToken{Engine: engineName, Value: resumeID}
	case last:
		resume = store.ActiveSession(cliKey, engineName)
		if resume == nil {
			fmt.Fprintln(os.Stderr, "no previous session to resume.")
			os.Exit(1)
		}
	}

	r, err := buildRunner(cfg, engineName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inv, err := r.Run(ctx, prompt, resume)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cwd, _ := os.Getwd()
	var final *events.Completed
	for evt := range inv.Events() {
		for _, line := range render.EventLines(evt, cwd) {
			fmt.Fprintln(os.Stderr, line)
		}
		switch e := evt.(type) {
		case events.SessionStarted:
			if err := store.SetSessionResume(cliKey, e.Resume(), prompt); err != nil {
				fmt.Fprintf(os.Stderr, "warning: session state save failed: %v\n", err)
			}
		case events.Completed:
			final = &e
		}
	}
	if err := inv.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if final == nil {
		fmt.Fprintln(os.Stderr, "Error: run ended without a result")
		os.Exit(1)
	}

	answer := final.Answer
	if !final.OK && answer == "" {
		answer = final.Err
	}
	fmt.Println(answer)
	if final.Resume != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n", final.Resume.Format())
	}
	if !final.OK {
		os.Exit(1)
	}
}

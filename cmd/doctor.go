package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/engine"
	"github.com/takohq/tako/internal/sessions"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tako doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfg, cfgPath, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("  Config:   NOT FOUND")
		fmt.Println()
		fmt.Println(err)
		return
	}
	fmt.Printf("  Config:   %s (OK)\n", cfgPath)

	fmt.Println()
	fmt.Println("  Transport:")
	switch cfg.Transport {
	case "", "telegram":
		checkCredential("Telegram", cfg.Transports.Telegram.BotToken != "" && cfg.Transports.Telegram.ChatID != 0)
	case "discord":
		checkCredential("Discord", cfg.Transports.Discord.BotToken != "" && cfg.Transports.Discord.ChannelID != "")
	default:
		fmt.Printf("    %-10s UNKNOWN (%s)\n", "Type:", cfg.Transport)
	}

	fmt.Println()
	fmt.Println("  Engines:")
	for _, name := range engine.Names() {
		checkBinary(name, cfg.Engine(name).Bin)
	}

	fmt.Println()
	statePath := sessions.ResolvePath(cfgPath)
	fmt.Printf("  State:    %s", statePath)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		fmt.Println(" (none yet)")
	} else if err != nil {
		fmt.Printf(" (UNREADABLE: %v)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	if dir, err := cfg.InjectDir(); err == nil {
		fmt.Printf("  Inject:   %s", dir)
		if err := checkWritable(dir); err != nil {
			fmt.Printf(" (NOT WRITABLE: %v)\n", err)
		} else {
			fmt.Println(" (OK)")
		}
	}

	if cfg.Transports.Telegram.VoiceTranscription {
		fmt.Println()
		fmt.Println("  Voice:")
		checkCredential("API key", cfg.Voice.APIKey != "")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkCredential(name string, ok bool) {
	status := "configured"
	if !ok {
		status = "MISSING CREDENTIALS"
	}
	fmt.Printf("    %-10s %s\n", name+":", status)
}

func checkBinary(name, bin string) {
	path, err := exec.LookPath(bin)
	if err != nil {
		fmt.Printf("    %-10s NOT FOUND (%s)\n", name+":", bin)
	} else {
		fmt.Printf("    %-10s %s\n", name+":", path)
	}
}

// checkWritable proves the directory accepts writes by creating and
// removing a probe file.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

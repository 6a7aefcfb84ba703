package cli

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/strideworks/solesync/internal/config"
)

// InitCommand handles the 'solesync init' subcommand
func InitCommand(args []string) int {
	fs := flag.NewFlagSet("solesync init", flag.ExitOnError)
	outputPath := fs.String("output", "solesync.json", "Output config file path")
	backendURL := fs.String("backend-url", "", "Sync backend base URL")
	deviceID := fs.String("device-id", "", "Device identifier sent with every call")
	dataDir := fs.String("data-dir", "", "Directory for the queue store")
	force := fs.Bool("force", false, "Overwrite an existing config without prompting")

	fs.Usage = func() {
		fmt.Println(`Usage: solesync init [options]

Write a solesync config file with sensible defaults.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  # Defaults in the current directory
  solesync init

  # Point at a deployed backend
  solesync init --backend-url https://sync.example.com --device-id phone-1

  # Scripted setup
  solesync init --output /etc/solesync/solesync.json --force`)
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	// Check if config already exists
	if _, err := os.Stat(*outputPath); err == nil && !*force {
		fmt.Printf("⚠️  Config file %s already exists. Overwrite? [y/N]: ", *outputPath)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return 0
		}
	}

	cfg := config.DefaultConfig()
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}
	if *deviceID != "" {
		cfg.Backend.DeviceID = *deviceID
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := cfg.Save(*outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		return 1
	}

	fmt.Println()
	fmt.Printf("✅ Config written to %s\n", *outputPath)
	fmt.Printf("   Backend: %s\n", cfg.Backend.URL)
	fmt.Printf("   Queue store: %s\n", cfg.StorePath())

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  solesync start                     # Start the daemon")
	fmt.Printf("  solesync start --config %s\n", *outputPath)
	fmt.Println()
	return 0
}

package cli

import (
	"fmt"
	"os"
)

// commandInfo describes a top-level subcommand.
type commandInfo struct {
	Name     string
	Args     string
	Short    string
	Long     string
	Examples []string
}

var commands = []commandInfo{
	{
		Name:  "start",
		Args:  "[--config <file>]",
		Short: "Start the solesync daemon (default action)",
		Long: `Start the solesync daemon.

Restores the offline queue from the local store, begins probing the
sync backend, and serves the local REST API on the configured port
(default :8425). Queued operations drain automatically whenever the
backend becomes reachable.`,
		Examples: []string{
			"solesync",
			"solesync start",
			"solesync start --config /etc/solesync/solesync.json",
		},
	},
	{
		Name:  "init",
		Args:  "[--output <file>] [--backend-url <url>] [--force]",
		Short: "Write a default config file",
		Long: `Create a solesync config file with sensible defaults.

Prompts before overwriting an existing file unless --force is given.`,
		Examples: []string{
			"solesync init",
			"solesync init --backend-url https://sync.example.com",
			"solesync init --output /etc/solesync/solesync.json --force",
		},
	},
	{
		Name:  "status",
		Args:  "[--config <file>]",
		Short: "Inspect the persisted queue without starting the daemon",
		Long: `Print queue status as JSON to stdout.

Reads the persisted snapshot directly, so it works while the daemon
is stopped. No network calls are made.`,
		Examples: []string{
			"solesync status",
			"solesync status --config /etc/solesync/solesync.json",
		},
	},
	{
		Name:  "replay",
		Args:  "<file.yaml> [--config <file>]",
		Short: "Enqueue a YAML batch of operations into the local queue",
		Long: `Parse a YAML batch file and enqueue its operations.

Operations persist in the local store and sync after the next daemon
start. Useful for capturing work while the daemon is down. Batch format:

  operations:
    - kind: mutation
      name: runs:record
      priority: 90
      args: {"shoeId": "sh_1", "distanceKm": 7.5}

Omitted priorities resolve through the rules file; omitted kinds
default to mutation.`,
		Examples: []string{
			"solesync replay batch.yaml",
			"solesync replay batch.yaml --config /etc/solesync/solesync.json",
		},
	},
	{
		Name:  "version",
		Short: "Print version and build information",
		Examples: []string{
			"solesync version",
			"solesync --version",
		},
	},
}

// PrintHelp prints top-level help (solesync help).
func PrintHelp(binaryName string) {
	fmt.Fprintf(os.Stdout, `SoleSync — Offline-First Sync Daemon

USAGE:
  %s [command] [flags]

COMMANDS:
`, binaryName)

	for _, c := range commands {
		fmt.Fprintf(os.Stdout, "  %-10s %-42s %s\n", c.Name, c.Args, c.Short)
	}

	fmt.Fprintf(os.Stdout, `
GLOBAL FLAGS:
  --config <file>   Path to config file (default: solesync.json)
  --version         Print version information
  -h, --help        Show this help message

Run '%s help <command>' for detailed help on a specific command.
`, binaryName)
}

// PrintCommandHelp prints help for a specific subcommand.
func PrintCommandHelp(binaryName, cmdName string) {
	for _, c := range commands {
		if c.Name == cmdName {
			fmt.Fprintf(os.Stdout, "COMMAND: %s %s\n\n", binaryName, c.Name)
			if c.Args != "" {
				fmt.Fprintf(os.Stdout, "USAGE:\n  %s %s %s\n\n", binaryName, c.Name, c.Args)
			}
			if c.Long != "" {
				fmt.Fprintf(os.Stdout, "DESCRIPTION:\n  %s\n\n", c.Long)
			}
			if len(c.Examples) > 0 {
				fmt.Fprintln(os.Stdout, "EXAMPLES:")
				for _, ex := range c.Examples {
					fmt.Fprintf(os.Stdout, "  %s\n", ex)
				}
				fmt.Fprintln(os.Stdout)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\nRun '%s help' for a list of commands.\n", cmdName, binaryName)
}

// CommandNames returns all valid command names (used for error messages).
func CommandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Name
	}
	return names
}

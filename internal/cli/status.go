package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/strideworks/solesync/internal/queue"
)

// statusReport is the JSON document printed by 'solesync status'.
type statusReport struct {
	Store          string       `json:"store"`
	Queue          queue.Status `json:"queue"`
	DroppedLast24h int          `json:"droppedLast24h"`
}

// StatusCommand handles the 'solesync status' subcommand. It reads the
// persisted queue directly, so it works while the daemon is stopped.
func StatusCommand(args []string) int {
	fs := flag.NewFlagSet("solesync status", flag.ExitOnError)
	configPath := fs.String("config", "solesync.json", "Path to config file")

	fs.Usage = func() {
		fmt.Println(`Usage: solesync status [options]

Print queue status as JSON to stdout. No network calls are made.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := getLogger()
	q, store, err := openQueue(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	dropped, err := store.DroppedCount(time.Now().Add(-24 * time.Hour))
	if err != nil {
		logger.Warn("dropped count unavailable", "error", err)
	}

	report := statusReport{
		Store:          cfg.StorePath(),
		Queue:          q.Status(false),
		DroppedLast24h: dropped,
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

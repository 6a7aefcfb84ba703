package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strideworks/solesync/internal/queue"
)

// replayBatch is the YAML document accepted by 'solesync replay'.
type replayBatch struct {
	Operations []replayOp `yaml:"operations"`
}

type replayOp struct {
	Kind     string         `yaml:"kind"`
	Name     string         `yaml:"name"`
	Priority *int           `yaml:"priority"`
	Args     map[string]any `yaml:"args"`
}

// ReplayCommand handles the 'solesync replay' subcommand. Operations land
// in the persisted queue and sync after the next daemon start.
func ReplayCommand(args []string) int {
	fs := flag.NewFlagSet("solesync replay", flag.ExitOnError)
	configPath := fs.String("config", "solesync.json", "Path to config file")

	fs.Usage = func() {
		fmt.Println(`Usage: solesync replay <file.yaml> [options]

Enqueue a YAML batch of operations into the local queue.

Batch format:
  operations:
    - kind: mutation
      name: runs:record
      priority: 90
      args: {"shoeId": "sh_1", "distanceKm": 7.5}

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	batchPath := fs.Arg(0)

	data, err := os.ReadFile(batchPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var batch replayBatch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		fmt.Fprintf(os.Stderr, "Error: parse batch: %v\n", err)
		return 1
	}
	if len(batch.Operations) == 0 {
		fmt.Fprintln(os.Stderr, "Error: batch has no operations")
		return 1
	}

	ops, err := buildOperations(batch.Operations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
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

	rules := loadRules(cfg, logger)

	queued, rejected := 0, 0
	for _, op := range ops {
		if op.Priority < 0 {
			op.Priority = rules.PriorityFor(op.Name)
		}
		if q.Enqueue(op) {
			queued++
		} else {
			rejected++
		}
	}

	st := q.Status(false)
	fmt.Printf("✅ Queued %d operation(s) from %s\n", queued, batchPath)
	if rejected > 0 {
		fmt.Printf("⚠️  %d operation(s) rejected, queue full at %d\n", rejected, st.Total)
	}
	fmt.Printf("   Queue: %d total (%d immediate, %d background, %d deferred)\n",
		st.Total, st.Immediate, st.Background, st.Deferred)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  solesync start         # Drain the queue once the backend is reachable")
	fmt.Println()
	if rejected > 0 {
		return 1
	}
	return 0
}

// buildOperations validates the batch before anything is enqueued, so a
// malformed entry rejects the whole file.
func buildOperations(entries []replayOp) ([]*queue.Operation, error) {
	ops := make([]*queue.Operation, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("operation %d: name required", i)
		}

		kind := queue.Kind(e.Kind)
		if e.Kind == "" {
			kind = queue.KindMutation
		}
		if kind != queue.KindMutation && kind != queue.KindAction {
			return nil, fmt.Errorf("operation %d: kind must be mutation or action, got %q", i, e.Kind)
		}

		priority := -1
		if e.Priority != nil {
			if *e.Priority < 0 || *e.Priority > 100 {
				return nil, fmt.Errorf("operation %d: priority must be within 0..100, got %d", i, *e.Priority)
			}
			priority = *e.Priority
		}

		var raw json.RawMessage
		if e.Args != nil {
			data, err := json.Marshal(e.Args)
			if err != nil {
				return nil, fmt.Errorf("operation %d: encode args: %w", i, err)
			}
			raw = data
		}

		ops = append(ops, &queue.Operation{
			Kind:     kind,
			Name:     e.Name,
			Args:     raw,
			Priority: priority,
		})
	}
	return ops, nil
}

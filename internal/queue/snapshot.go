package queue

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrCorruptSnapshot marks a persisted snapshot that failed the integrity
// or version check. Restore treats it as an empty queue.
var ErrCorruptSnapshot = errors.New("queue: corrupt snapshot")

const snapshotVersion = 1

// snapshotEnvelope wraps the serialized operations with a version and a
// blake2b-256 checksum so a torn or hand-edited file is detected on load.
type snapshotEnvelope struct {
	Version  int             `json:"version"`
	SavedAt  time.Time       `json:"savedAt"`
	Checksum string          `json:"checksum"`
	Ops      json.RawMessage `json:"ops"`
}

func encodeSnapshot(ops []*Operation) ([]byte, error) {
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal operations: %w", err)
	}

	sum := blake2b.Sum256(opsJSON)
	env := snapshotEnvelope{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Checksum: hex.EncodeToString(sum[:]),
		Ops:      opsJSON,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]*Operation, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptSnapshot, env.Version)
	}

	sum := blake2b.Sum256(env.Ops)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	var ops []*Operation
	if err := json.Unmarshal(env.Ops, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return ops, nil
}

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"voiceia/internal/ports"
)

// JSONStore persists client state in a single JSON file on disk. The file
// holds one object keyed by namespace so several profiles can share it.
type JSONStore struct {
	path      string
	namespace string
}

var _ ports.Persister = (*JSONStore)(nil)

// NewJSONStore creates a JSON-backed state store.
func NewJSONStore(path, namespace string) *JSONStore {
	return &JSONStore{path: path, namespace: namespace}
}

// Load reads state from disk or returns an empty state when missing.
func (s *JSONStore) Load(_ context.Context) (ports.PersistedState, error) {
	all, err := s.readAll()
	if err != nil {
		return ports.PersistedState{}, err
	}
	raw, ok := all[s.namespace]
	if !ok {
		return ports.PersistedState{}, nil
	}
	var state ports.PersistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return ports.PersistedState{}, fmt.Errorf("decode state %q: %w", s.namespace, err)
	}
	return state, nil
}

// Save writes state as indented JSON, creating parent directories. Other
// namespaces in the file are preserved.
func (s *JSONStore) Save(_ context.Context, state ports.PersistedState) error {
	all, err := s.readAll()
	if err != nil {
		all = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	all[s.namespace] = encoded

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONStore) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	all := map[string]json.RawMessage{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode state file %q: %w", s.path, err)
	}
	return all, nil
}

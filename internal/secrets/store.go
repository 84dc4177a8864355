package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Store is the canonical secrets file: line-oriented key=value pairs,
// case-sensitive keys, one pair per line. Present lines are never
// rewritten; new slots are appended. This keeps operator edits and
// comments intact across provisioning runs.
type Store struct {
	path   string
	values map[string]string
}

func OpenStore(path string) (*Store, error) {
	values := map[string]string{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		values, err = godotenv.Unmarshal(string(data))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First run; file is created on the first append.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &Store{path: path, values: values}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Append adds the given pairs to the store file in one write. Keys that
// are already present must not be passed; the provisioner guarantees
// that via its fill-if-empty check.
func (s *Store) Append(pairs [][2]string) error {
	if len(pairs) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()

	var b strings.Builder
	for _, kv := range pairs {
		fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}

	for _, kv := range pairs {
		s.values[kv[0]] = kv[1]
	}
	return nil
}

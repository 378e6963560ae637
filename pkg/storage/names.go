package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NameIndex remembers which output base name a target was first
// written under. Without it, a resumed run whose title lookup fails
// would fall back to a different name and split one target's output
// across two sets of files. The index is a plain append-only text
// file in the output directory, one line per target:
//
//	key<TAB>base
//
// Later entries for the same key win, so a rename simply appends.
type NameIndex struct {
	path  string
	names map[string]string
}

// OpenNameIndex loads (or creates) the name index in dir.
func OpenNameIndex(dir string) (*NameIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	idx := &NameIndex{
		path:  filepath.Join(dir, ".names"),
		names: make(map[string]string),
	}

	file, err := os.Open(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to open name index: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 || fields[1] == "" {
			continue
		}
		idx.names[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read name index: %w", err)
	}

	return idx, nil
}

// Lookup returns the base name recorded for key, if any.
func (idx *NameIndex) Lookup(key string) (string, bool) {
	base, ok := idx.names[key]
	return base, ok
}

// Record appends a key-to-base-name entry and syncs it to disk.
// Recording the name a key already has is a no-op.
func (idx *NameIndex) Record(key, base string) error {
	if idx.names[key] == base {
		return nil
	}

	file, err := os.OpenFile(idx.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open name index: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s\t%s\n", key, base); err != nil {
		return fmt.Errorf("failed to append name index entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync name index: %w", err)
	}

	idx.names[key] = base
	return nil
}

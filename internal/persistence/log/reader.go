package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"questingbots.ai/internal/sim/ledger"
)

// ListFiles returns dir's <prefix>-*.jsonl.zst files in name order, which is
// also hour order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadJSONL calls fn with each line of a zstd JSONL file.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadAssignmentEvents replays the events an AssignmentLogger wrote under dir.
func ReadAssignmentEvents(dir string, fn func(ledger.Event) error) error {
	files, err := ListFiles(filepath.Join(dir, "assignments"), "assignments")
	if err != nil {
		return err
	}
	for _, path := range files {
		err := ReadJSONL(path, func(line []byte) error {
			var ev ledger.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			return fn(ev)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

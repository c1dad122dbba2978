package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chronolake/chronolake/pkg/types"
)

// LoadFile reads newline-delimited JSON events into an in-memory
// accessor. The command-line tools use it to replay exported event dumps.
func LoadFile(path string) (*MemoryAccessor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: failed to open event file: %w", err)
	}
	defer f.Close()

	acc := NewMemoryAccessor()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("source: invalid event on line %d of %s: %w", lineNo, path, err)
		}
		acc.Add(ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("source: failed to read event file: %w", err)
	}
	return acc, nil
}

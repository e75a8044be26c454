package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SignalFileName is the activity marker under the storage root. The engine
// touches it after every successful mutation so watchers (web UI, tests)
// can detect changes without polling SQLite.
const SignalFileName = ".agentmail-notify"

// SignalPath returns the signal file location for a storage root.
func SignalPath(storageRoot string) string {
	return filepath.Join(storageRoot, SignalFileName)
}

// TouchSignal writes a monotonic revision (timestamp) to the signal file.
// Creates the parent directory and file if needed.
func TouchSignal(signalPath string) error {
	if signalPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(signalPath), 0o755); err != nil {
		return fmt.Errorf("create signal file dir: %w", err)
	}
	rev := strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(signalPath, []byte(rev), 0o644)
}

// ReadSignal returns the current revision string, or "" if the signal file
// does not exist yet.
func ReadSignal(signalPath string) string {
	data, err := os.ReadFile(signalPath)
	if err != nil {
		return ""
	}
	return string(data)
}

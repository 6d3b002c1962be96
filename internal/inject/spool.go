package inject

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Spool writes one injection file into dir for a running watcher to pick
// up, returning the file path. The write goes through a temp file and a
// rename so the watcher never sees a partial file.
func Spool(dir, text string, newSession bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("inject: create spool dir: %w", err)
	}
	data, err := json.Marshal(spoolFile{Text: text, NewSession: newSession})
	if err != nil {
		return "", fmt.Errorf("inject: encode spool file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		return "", fmt.Errorf("inject: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("inject: write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("inject: close spool file: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".json")
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("inject: publish spool file: %w", err)
	}
	cleanup = false
	return path, nil
}

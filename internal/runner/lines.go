package runner

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
)

// ReadLines delivers each newline-terminated line of r, without its
// terminator, to emit. A trailing fragment with no newline is dropped: the
// producer died mid-record and the fragment cannot be a complete line.
// Lines of any length are supported.
func ReadLines(r io.Reader, emit func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		emit(line)
	}
}

// DrainStderr logs each stderr line from the child at debug level. It never
// fails; a dying stderr must not take the run down with it.
func DrainStderr(tag string, r io.Reader) {
	err := ReadLines(r, func(line string) {
		slog.Debug("agent stderr", "engine", tag, "line", line)
	})
	if err != nil {
		slog.Debug("agent stderr drain error", "engine", tag, "error", err)
	}
}

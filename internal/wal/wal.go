package wal

import (
	"bufio"
	"os"
	"sync"
)

// WAL is a single-file append-only write-ahead log. One goroutine at a
// time may be inside Append (enforced by mu); the file is kept open for
// the process lifetime to amortize open/close overhead, matching the
// teacher's store/wal.go.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open creates or opens the WAL file at path in append mode.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{path: path, file: f}, nil
}

// Append serializes rec to one line, writes it, and forces the write to
// the underlying storage device before returning. A non-nil error means
// the record was not durably persisted and must not be applied in memory
// (spec.md §4.2).
func (w *WAL) Append(rec Record) error {
	line, err := EncodeLine(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(line); err != nil {
		return err
	}
	return w.file.Sync()
}

// ReplayStats reports how many lines replay saw of each kind.
type ReplayStats struct {
	Valid   int
	Corrupt int
}

// Replay iterates the WAL in on-disk order, decoding each line and
// invoking apply for every well-formed record. A line that fails to
// decode increments Corrupt and is skipped rather than aborting replay
// (spec.md §4.2/§4.1 — tail-corruption tolerance). A final line with no
// terminating newline is a partial write and is counted as Corrupt even
// if its text decodes. Blank lines are skipped silently and counted in
// neither total.
func (w *WAL) Replay(apply func(Record) error) (ReplayStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stats ReplayStats

	if _, err := w.file.Seek(0, 0); err != nil {
		return stats, err
	}
	defer w.file.Seek(0, 2) // restore append position

	scanner := bufio.NewScanner(w.file)
	// A single record (e.g. a large BULK) may exceed bufio's default
	// 64KiB token size; grow the buffer generously rather than truncate
	// a legitimately large line into "corrupt".
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	unterminated := false
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		adv, tok, err := bufio.ScanLines(data, atEOF)
		if atEOF && tok != nil && adv == len(data) && data[len(data)-1] != '\n' {
			unterminated = true
		}
		return adv, tok, err
	})

	for scanner.Scan() {
		line := scanner.Bytes()
		rec, err := DecodeLine(line)
		if err == nil && unterminated {
			err = ErrInvalidRecord
		}
		if err != nil {
			if IsBlankLineErr(err) {
				continue
			}
			stats.Corrupt++
			continue
		}
		if applyErr := apply(rec); applyErr != nil {
			return stats, applyErr
		}
		stats.Valid++
	}
	return stats, scanner.Err()
}

// Truncate empties the WAL (called after a successful snapshot) and
// force-persists the now-empty file, per spec.md §4.3 step 4.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// defaultMaxSizeMB and defaultMaxBackups apply when NewRotatingWriter is
// given a non-positive size or count; an always-on recorder agent churns more log volume
// than an interactive CLI, so both defaults run higher than a typical
// service default.
const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 5
)

// RotatingWriter is a size-based log file rotator, safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
}

// NewRotatingWriter opens (creating directories as needed) a log file that
// rotates once it grows past maxSizeMB, retaining up to maxBackups old files.
func NewRotatingWriter(filePath string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{
		filePath:   filePath,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write implements io.Writer, rotating the underlying file first if p would
// push it past maxSize.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Reopen closes and reopens the log file, for SIGHUP-triggered external
// log management (logrotate and friends).
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
	}
	return rw.openFile()
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	return rw.file.Close()
}

// TeeWriter returns an io.Writer that duplicates every write to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rw.file = f
	rw.written = info.Size()
	return nil
}

// rotate closes the active file, slides the backup chain up by one slot,
// and opens a fresh file at filePath.
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	oldest := rw.backupName(rw.maxBackups)
	if _, err := os.Stat(oldest); err == nil {
		os.Remove(oldest)
	}
	rw.shiftBackups(rw.maxBackups)

	if err := os.Rename(rw.filePath, rw.backupName(1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive current log: %w", err)
	}

	return rw.openFile()
}

// shiftBackups walks the chain from slot upTo-1 (the oldest kept backup)
// down to 1, renaming each backup into the slot above it.
func (rw *RotatingWriter) shiftBackups(upTo int) {
	for i := upTo - 1; i >= 1; i-- {
		src := rw.backupName(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		os.Rename(src, rw.backupName(i+1))
	}
}

func (rw *RotatingWriter) backupName(index int) string {
	if index <= 0 {
		return rw.filePath
	}
	return fmt.Sprintf("%s.%d", rw.filePath, index)
}

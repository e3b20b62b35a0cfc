package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// RotatableLogger is an io.Writer that appends to a log file and
// rotates it once it would grow past MaxSize bytes, keeping MaxBackups
// numbered backups with .1 the newest.
type RotatableLogger struct {
	Filename   string
	MaxSize    int64
	MaxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatableLogger creates a new RotatableLogger.
func NewRotatableLogger(filename string, maxSize int64, maxBackups int) *RotatableLogger {
	return &RotatableLogger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
}

// Write appends p, rotating first when the write would push the file
// past MaxSize.
func (l *RotatableLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.open(); err != nil {
			// Keep logging alive even when the file cannot be opened.
			return os.Stderr.Write(p)
		}
	}
	if l.size+int64(len(p)) > l.MaxSize {
		if err := l.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := l.file.Write(p)
	l.size += int64(n)
	return n, err
}

func (l *RotatableLogger) open() error {
	f, err := os.OpenFile(l.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// rotate shifts each backup one slot down, moves the live file to .1
// and reopens a fresh one.
func (l *RotatableLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	for n := l.MaxBackups - 1; n >= 1; n-- {
		os.Rename(fmt.Sprintf("%s.%d", l.Filename, n), fmt.Sprintf("%s.%d", l.Filename, n+1))
	}
	if l.MaxBackups > 0 {
		os.Rename(l.Filename, l.Filename+".1")
	}
	return l.open()
}

// SetupLogger routes the stdlib logger to stderr plus a rotating file
// under logDir.
func SetupLogger(logDir string) {
	os.MkdirAll(logDir, 0755)

	// 10MB limit, 5 backups
	rotating := NewRotatableLogger(filepath.Join(logDir, "xiaolubot.log"), 10<<20, 5)

	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

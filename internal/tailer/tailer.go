/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package tailer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrFlood is reported by ReadNew when the line rate exceeded the
// configured threshold within one check interval. The caller is expected
// to log it and call Recover, which drops the backlog.
var ErrFlood = errors.New("log flood detected")

// Source tails one log file. It remembers the inode and byte offset of
// the underlying file so that rotation (a new file appearing under the
// same path) is detected and reading restarts from offset 0.
type Source struct {
	Path     string
	Category string

	file        *os.File
	inode       uint64
	offset      int64
	lines       int
	windowStart time.Time

	floodLines    int
	floodInterval time.Duration
}

// Open starts tailing path. Reading begins at the current end of file;
// only lines appended after Open are returned. A missing path is
// reported as fs.ErrNotExist, which callers treat as transient.
func Open(path, category string, floodLines int, floodInterval time.Duration) (*Source, error) {
	s := &Source{
		Path:          path,
		Category:      category,
		floodLines:    floodLines,
		floodInterval: floodInterval,
	}

	if err := s.open(io.SeekEnd); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) open(whence int) error {
	file, err := os.Open(s.Path)
	if err != nil {
		return err
	}

	inode, err := fileInode(file)
	if err != nil {
		_ = file.Close()
		return err
	}

	offset, err := file.Seek(0, whence)
	if err != nil {
		_ = file.Close()
		return err
	}

	s.file = file
	s.inode = inode
	s.offset = offset
	s.lines = 0
	s.windowStart = time.Now()

	return nil
}

// ReadNew returns the complete lines appended since the last call. A
// partial trailing line stays in the file until its newline arrives. If
// the file was rotated, the stale handle is closed and reading restarts
// from the beginning of the new file. When the rolling line count
// exceeds the flood threshold within the check interval, ErrFlood is
// returned instead of lines.
func (s *Source) ReadNew() ([]string, error) {
	if s.file == nil {
		if err := s.open(io.SeekStart); err != nil {
			return nil, err
		}
	}

	rotated, err := s.rotated()
	if err != nil {
		return nil, err
	}
	if rotated {
		slog.Info("Log file rotated, reopening.", "path", s.Path)
		s.Close()
		if err := s.open(io.SeekStart); err != nil {
			return nil, err
		}
	}

	info, err := s.file.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < s.offset {
		// Truncated in place. Start over.
		s.offset = 0
	}
	if size == s.offset {
		s.maybeResetWindow()
		return nil, nil
	}

	buf := make([]byte, size-s.offset)
	n, err := s.file.ReadAt(buf, s.offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	last := strings.LastIndexByte(string(buf), '\n')
	if last < 0 {
		// Only a partial line so far.
		s.maybeResetWindow()
		return nil, nil
	}

	complete := string(buf[:last])
	s.offset += int64(last + 1)

	var lines []string
	for _, line := range strings.Split(complete, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	s.maybeResetWindow()
	s.lines += len(lines)
	if s.floodLines > 0 && s.lines > s.floodLines {
		return nil, fmt.Errorf("%w: %d lines within %s on %s", ErrFlood, s.lines, s.floodInterval, s.Path)
	}

	return lines, nil
}

// Recover resolves a flood: the handle is reopened at the current end of
// file, intentionally dropping the unread backlog, and the rate counter
// restarts.
func (s *Source) Recover() error {
	s.Close()
	return s.open(io.SeekEnd)
}

// Close releases the file handle. The source may be reused afterwards;
// the next ReadNew reopens from the beginning.
func (s *Source) Close() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *Source) rotated() (bool, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Rotation in progress, the new file has not appeared yet.
			// Keep draining the old handle; the inode check picks up
			// the replacement once it lands.
			return false, nil
		}
		return false, err
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false, nil
	}
	return stat.Ino != s.inode, nil
}

func (s *Source) maybeResetWindow() {
	if time.Since(s.windowStart) >= s.floodInterval {
		s.lines = 0
		s.windowStart = time.Now()
	}
}

func fileInode(file *os.File) (uint64, error) {
	info, err := file.Stat()
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("inode not available on this platform")
	}
	return stat.Ino, nil
}

/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Kind distinguishes the two temp entry files.
type Kind string

const (
	KindDeny  Kind = "deny"
	KindAllow Kind = "allow"
)

// Scope restricts which traffic directions an entry applies to.
type Scope string

const (
	ScopeIn   Scope = "in"
	ScopeOut  Scope = "out"
	ScopeBoth Scope = "inout"
)

// ProtectedMarker inside a comment flags an entry as administratively
// protected; such entries refuse removal.
const ProtectedMarker = "do not delete"

var (
	ErrNotFound  = errors.New("no matching entry")
	ErrProtected = errors.New("entry is protected, not removed")
)

// Entry is one temporary allow or deny record. Duration 0 means the
// entry stays until explicitly removed.
type Entry struct {
	CreatedAt time.Time
	Address   string
	Ports     string
	Scope     Scope
	Duration  time.Duration
	Comment   string
	Kind      Kind
}

// Protected reports whether the entry carries the administrative
// protection marker.
func (e Entry) Protected() bool {
	return strings.Contains(strings.ToLower(e.Comment), ProtectedMarker)
}

// Expired reports whether the entry's lifetime has passed at now.
// Permanent entries (duration 0) never expire.
func (e Entry) Expired(now time.Time) bool {
	if e.Duration <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.Duration))
}

// format serializes the entry in the stable on-disk field order:
// created_at|address|extra_qualifier|scope|duration|comment.
func (e Entry) format() string {
	return fmt.Sprintf("%d|%s|%s|%s|%d|%s",
		e.CreatedAt.Unix(), e.Address, e.Ports, e.Scope,
		int64(e.Duration/time.Second), e.Comment,
	)
}

func parseEntry(line string, kind Kind) (Entry, error) {
	fields := strings.SplitN(line, "|", 6)
	if len(fields) != 6 {
		return Entry{}, fmt.Errorf("malformed entry, %d of 6 fields: %q", len(fields), line)
	}

	created, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed timestamp in entry %q: %w", line, err)
	}
	duration, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed duration in entry %q: %w", line, err)
	}

	return Entry{
		CreatedAt: time.Unix(created, 0),
		Address:   fields[1],
		Ports:     fields[2],
		Scope:     Scope(fields[3]),
		Duration:  time.Duration(duration) * time.Second,
		Comment:   fields[5],
		Kind:      kind,
	}, nil
}

// Store persists temporary entries, one plain-text file per kind. All
// mutations are read-modify-write sequences under an advisory file lock,
// so a concurrent administrative command on the same files cannot
// interleave.
type Store struct {
	mu    sync.Mutex
	paths map[Kind]string
}

func New(denyPath, allowPath string) *Store {
	return &Store{
		paths: map[Kind]string{
			KindDeny:  denyPath,
			KindAllow: allowPath,
		},
	}
}

// Add inserts entry, replacing any active entry of the same kind for the
// same address. The replaced entry, if any, is returned so the caller
// can retire its firewall rule.
func (s *Store) Add(entry Entry) (*Entry, error) {
	if entry.Address == "" {
		return nil, errors.New("entry without address")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Scope == "" {
		entry.Scope = ScopeBoth
	}

	var replaced *Entry
	err := s.update(entry.Kind, func(entries []Entry) ([]Entry, error) {
		kept := entries[:0]
		for _, e := range entries {
			if e.Address == entry.Address {
				old := e
				replaced = &old
				continue
			}
			kept = append(kept, e)
		}
		return append(kept, entry), nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// Remove deletes the entry for address. Protected entries are refused
// with ErrProtected and stay on disk untouched.
func (s *Store) Remove(address string, kind Kind) (*Entry, error) {
	var removed *Entry
	err := s.update(kind, func(entries []Entry) ([]Entry, error) {
		kept := entries[:0]
		for _, e := range entries {
			if e.Address != address {
				kept = append(kept, e)
				continue
			}
			if e.Protected() {
				return nil, fmt.Errorf("%w: %s", ErrProtected, address)
			}
			old := e
			removed = &old
		}
		if removed == nil {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, address)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// List returns all entries of one kind in file order.
func (s *Store) List(kind Kind) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, entries, err := s.load(kind)
	if err != nil {
		return nil, err
	}
	_ = file.Close()
	return entries, nil
}

// Find returns the active entry for address of the given kind, or nil.
func (s *Store) Find(address string, kind Kind) (*Entry, error) {
	entries, err := s.List(kind)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Address == address {
			return &e, nil
		}
	}
	return nil, nil
}

// Sweep removes every entry of both kinds whose lifetime has passed and
// returns them. It is idempotent and cheap when nothing has expired; the
// daemon calls it every cycle.
func (s *Store) Sweep(now time.Time) ([]Entry, error) {
	var expired []Entry
	for _, kind := range []Kind{KindDeny, KindAllow} {
		err := s.update(kind, func(entries []Entry) ([]Entry, error) {
			kept := entries[:0]
			for _, e := range entries {
				if e.Expired(now) {
					expired = append(expired, e)
					continue
				}
				kept = append(kept, e)
			}
			return kept, nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Flush removes all non-protected entries of one kind and returns them.
func (s *Store) Flush(kind Kind) ([]Entry, error) {
	var removed []Entry
	err := s.update(kind, func(entries []Entry) ([]Entry, error) {
		kept := entries[:0]
		for _, e := range entries {
			if e.Protected() {
				kept = append(kept, e)
				continue
			}
			removed = append(removed, e)
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Oldest returns the oldest non-protected, non-permanent entry of a
// kind, or nil. Used for ceiling eviction.
func (s *Store) Oldest(kind Kind) (*Entry, error) {
	entries, err := s.List(kind)
	if err != nil {
		return nil, err
	}

	var oldest *Entry
	for _, e := range entries {
		if e.Protected() || e.Duration <= 0 {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			old := e
			oldest = &old
		}
	}
	return oldest, nil
}

// Count returns the number of non-permanent entries of a kind.
func (s *Store) Count(kind Kind) (int, error) {
	entries, err := s.List(kind)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Duration > 0 {
			n++
		}
	}
	return n, nil
}

// update runs fn over the decoded entries of one kind and writes the
// result back, all under the file lock.
func (s *Store) update(kind Kind, fn func([]Entry) ([]Entry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, entries, err := s.load(kind)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	updated, err := fn(entries)
	if err != nil {
		return err
	}

	return s.save(file, updated)
}

// load opens the kind's file, takes the advisory lock and decodes all
// entries. Blank lines and lines starting with "#" are ignored;
// malformed lines are skipped with the rest of the file intact.
func (s *Store) load(kind Kind) (*os.File, []Entry, error) {
	path, ok := s.paths[kind]
	if !ok || path == "" {
		return nil, nil, fmt.Errorf("no file configured for kind %q", kind)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, err
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("lock %s: %w", path, err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseEntry(line, kind)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return file, entries, nil
}

func (s *Store) save(file *os.File, entries []Entry) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.format()); err != nil {
			return err
		}
	}
	return w.Flush()
}

/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "failwatchd.deny"), filepath.Join(dir, "failwatchd.allow"))
}

func addAndListRoundTrip(t *testing.T) {
	s := newStore(t)

	created := time.Unix(1700000000, 0)
	_, err := s.Add(Entry{
		CreatedAt: created,
		Address:   "203.0.113.5",
		Ports:     "22",
		Scope:     ScopeIn,
		Duration:  300 * time.Second,
		Comment:   "Failed SSH login from 203.0.113.5",
		Kind:      KindDeny,
	})
	require.NoError(t, err)

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.113.5", entries[0].Address)
	assert.Equal(t, "22", entries[0].Ports)
	assert.Equal(t, ScopeIn, entries[0].Scope)
	assert.Equal(t, 300*time.Second, entries[0].Duration)
	assert.True(t, created.Equal(entries[0].CreatedAt))
}

func fileFormatIsStableAndExternallyReadable(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{
		CreatedAt: time.Unix(1700000000, 0),
		Address:   "203.0.113.5",
		Scope:     ScopeBoth,
		Duration:  3600 * time.Second,
		Comment:   "manual ban",
		Kind:      KindDeny,
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(s.paths[KindDeny])
	require.NoError(t, err)
	assert.Equal(t, "1700000000|203.0.113.5||inout|3600|manual ban\n", string(raw))
}

func loadToleratesCommentsBlanksAndGarbage(t *testing.T) {
	s := newStore(t)
	content := strings.Join([]string{
		"# administrative bans",
		"",
		"1700000000|203.0.113.5||inout|3600|manual ban",
		"this line is not an entry",
		"1700000100|198.51.100.9|80|in|0|permanent, do not delete",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(s.paths[KindDeny], []byte(content), 0o600))

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "203.0.113.5", entries[0].Address)
	assert.Equal(t, "198.51.100.9", entries[1].Address)
}

func addReplacesExistingEntrySameKind(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{Address: "203.0.113.5", Duration: time.Hour, Kind: KindDeny})
	require.NoError(t, err)

	replaced, err := s.Add(Entry{Address: "203.0.113.5", Duration: 2 * time.Hour, Kind: KindDeny})
	require.NoError(t, err)
	require.NotNil(t, replaced, "previous entry must be reported for rule cleanup")
	assert.Equal(t, time.Hour, replaced.Duration)

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	require.Len(t, entries, 1, "re-add must replace, not duplicate")
	assert.Equal(t, 2*time.Hour, entries[0].Duration)
}

func kindsAreIndependent(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{Address: "203.0.113.5", Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{Address: "203.0.113.5", Kind: KindAllow})
	require.NoError(t, err)

	deny, err := s.List(KindDeny)
	require.NoError(t, err)
	allow, err := s.List(KindAllow)
	require.NoError(t, err)
	assert.Len(t, deny, 1)
	assert.Len(t, allow, 1)
}

func removeRefusesProtectedEntry(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{Address: "198.51.100.9", Comment: "backup host, do not delete", Kind: KindDeny})
	require.NoError(t, err)

	_, err = s.Remove("198.51.100.9", KindDeny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtected))

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "protected entry must stay")
}

func removeReportsMissingEntry(t *testing.T) {
	s := newStore(t)

	_, err := s.Remove("203.0.113.99", KindDeny)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func sweepRemovesOnlyExpiredEntries(t *testing.T) {
	s := newStore(t)
	created := time.Unix(1700000000, 0)

	_, err := s.Add(Entry{CreatedAt: created, Address: "203.0.113.5", Duration: 300 * time.Second, Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{CreatedAt: created, Address: "203.0.113.6", Duration: time.Hour, Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{CreatedAt: created, Address: "203.0.113.7", Duration: 0, Kind: KindDeny})
	require.NoError(t, err)

	expired, err := s.Sweep(created.Add(100 * time.Second))
	require.NoError(t, err)
	assert.Empty(t, expired, "nothing expired yet")

	expired, err = s.Sweep(created.Add(301 * time.Second))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "203.0.113.5", expired[0].Address)

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Idempotent: a second sweep is a no-op.
	expired, err = s.Sweep(created.Add(302 * time.Second))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func sweepSparesPermanentEntries(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{CreatedAt: time.Unix(1, 0), Address: "203.0.113.7", Duration: 0, Kind: KindDeny})
	require.NoError(t, err)

	expired, err := s.Sweep(time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func flushSkipsProtectedEntries(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{Address: "203.0.113.5", Duration: time.Hour, Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{Address: "198.51.100.9", Comment: "do not delete", Kind: KindDeny})
	require.NoError(t, err)

	removed, err := s.Flush(KindDeny)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "203.0.113.5", removed[0].Address)

	entries, err := s.List(KindDeny)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "198.51.100.9", entries[0].Address)
}

func oldestAndCountServeCeilingEviction(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{CreatedAt: time.Unix(300, 0), Address: "203.0.113.3", Duration: time.Hour, Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{CreatedAt: time.Unix(100, 0), Address: "203.0.113.1", Duration: time.Hour, Kind: KindDeny})
	require.NoError(t, err)
	_, err = s.Add(Entry{CreatedAt: time.Unix(50, 0), Address: "203.0.113.9", Duration: 0, Kind: KindDeny})
	require.NoError(t, err)

	count, err := s.Count(KindDeny)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "permanent entries do not count against the ceiling")

	oldest, err := s.Oldest(KindDeny)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, "203.0.113.1", oldest.Address, "permanent entry is not evictable")
}

func findReturnsActiveEntry(t *testing.T) {
	s := newStore(t)

	_, err := s.Add(Entry{Address: "203.0.113.5", Kind: KindDeny})
	require.NoError(t, err)

	e, err := s.Find("203.0.113.5", KindDeny)
	require.NoError(t, err)
	require.NotNil(t, e)

	e, err = s.Find("203.0.113.6", KindDeny)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestStore(t *testing.T) {
	t.Run("store.Add and List round trip", addAndListRoundTrip)
	t.Run("store file format is stable and externally readable", fileFormatIsStableAndExternallyReadable)
	t.Run("store.load tolerates comments, blanks and garbage", loadToleratesCommentsBlanksAndGarbage)
	t.Run("store.Add replaces existing entry of same kind", addReplacesExistingEntrySameKind)
	t.Run("store kinds are independent", kindsAreIndependent)
	t.Run("store.Remove refuses protected entry", removeRefusesProtectedEntry)
	t.Run("store.Remove reports missing entry", removeReportsMissingEntry)
	t.Run("store.Sweep removes only expired entries", sweepRemovesOnlyExpiredEntries)
	t.Run("store.Sweep spares permanent entries", sweepSparesPermanentEntries)
	t.Run("store.Flush skips protected entries", flushSkipsProtectedEntries)
	t.Run("store.Oldest and Count serve ceiling eviction", oldestAndCountServeCeilingEviction)
	t.Run("store.Find returns active entry", findReturnsActiveEntry)
}

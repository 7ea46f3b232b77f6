/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package ports

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHexAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"loopback v4", "0100007F", "127.0.0.1", true},
		{"any v4", "00000000", "0.0.0.0", true},
		{"ordinary v4", "0245A8C0", "192.168.69.2", true},
		{"loopback v6", "00000000000000000000000001000000", "::1", true},
		{"mapped v4 in v6 unwraps", "0000000000000000FFFF00000100007F", "127.0.0.1", true},
		{"odd length", "0100007", "", false},
		{"not hex", "GGGG007F", "", false},
		{"wrong size", "0100", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := DecodeHexAddress(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), addr)
		})
	}
}

func TestParseTable(t *testing.T) {
	table := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:0016 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 12345 1 ffff8880 100 0 0 10 0
   1: 0245A8C0:0016 0545A8C0:D431 01 00000000:00000000 00:00000000 00000000  1000        0 54321 1 ffff8881 100 0 0 10 0
   2: garbage line that decodes to nothing
`
	sockets, err := ParseTable(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, sockets, 2, "undecodable rows are skipped")

	listener := sockets[0]
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), listener.LocalAddr)
	assert.Equal(t, uint16(22), listener.LocalPort)
	assert.Equal(t, StateListen, listener.State)
	assert.Equal(t, uint64(12345), listener.Inode)

	conn := sockets[1]
	assert.Equal(t, netip.MustParseAddr("192.168.69.2"), conn.LocalAddr)
	assert.Equal(t, netip.MustParseAddr("192.168.69.5"), conn.RemoteAddr)
	assert.Equal(t, uint16(54321), conn.RemotePort)
	assert.Equal(t, StateEstablished, conn.State)
	assert.Equal(t, uint32(1000), conn.UID)
}

func TestParseTable_EmptyInput(t *testing.T) {
	sockets, err := ParseTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, sockets)
}

func TestProcessOf_MissingProcess(t *testing.T) {
	pid, comm := ProcessOf(t.TempDir(), 99999)
	assert.Equal(t, 0, pid, "vanished owner resolves silently to zero")
	assert.Empty(t, comm)
}

func writeProcTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))

	// 10.0.0.1:54321 connected to 192.168.69.2:22, served by inode 54321.
	table := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0245A8C0:0016 0100000A:D431 01 00000000:00000000 00:00000000 00000000     0        0 54321 1
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(table), 0o644))

	fdDir := filepath.Join(root, "1234", "fd")
	require.NoError(t, os.MkdirAll(fdDir, 0o755))
	require.NoError(t, os.Symlink("socket:[54321]", filepath.Join(fdDir, "3")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "1234", "comm"), []byte("sshd\n"), 0o644))

	return root
}

func TestOwner(t *testing.T) {
	root := writeProcTree(t)

	pid, comm := Owner(root, netip.MustParseAddr("10.0.0.1"))
	assert.Equal(t, 1234, pid)
	assert.Equal(t, "sshd", comm)

	pid, comm = Owner(root, netip.MustParseAddr("203.0.113.5"))
	assert.Equal(t, 0, pid, "unknown remote resolves to zero")
	assert.Empty(t, comm)

	pid, _ = Owner(t.TempDir(), netip.MustParseAddr("10.0.0.1"))
	assert.Equal(t, 0, pid, "missing tables are not an error")
}

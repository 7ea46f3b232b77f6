/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package ports

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Socket states as encoded in /proc/net/tcp.
const (
	StateEstablished uint8 = 0x01
	StateListen      uint8 = 0x0A
)

// Socket is one decoded row of a kernel socket table.
type Socket struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
	State      uint8
	UID        uint32
	Inode      uint64
}

// ParseTable decodes a /proc/net/{tcp,tcp6,udp,udp6} style table. Rows
// that fail to decode are skipped; a socket that vanished or a field the
// kernel renders unexpectedly is not worth an error here.
func ParseTable(r io.Reader) ([]Socket, error) {
	var sockets []Socket

	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			// Header row.
			first = false
			continue
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}

		local, localPort, err := decodeAddrPort(fields[1])
		if err != nil {
			continue
		}
		remote, remotePort, err := decodeAddrPort(fields[2])
		if err != nil {
			continue
		}
		state, err := strconv.ParseUint(fields[3], 16, 8)
		if err != nil {
			continue
		}
		uid, err := strconv.ParseUint(fields[7], 10, 32)
		if err != nil {
			continue
		}
		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			continue
		}

		sockets = append(sockets, Socket{
			LocalAddr:  local,
			LocalPort:  localPort,
			RemoteAddr: remote,
			RemotePort: remotePort,
			State:      uint8(state),
			UID:        uint32(uid),
			Inode:      inode,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return sockets, nil
}

// ReadTable parses one table file, e.g. /proc/net/tcp.
func ReadTable(path string) ([]Socket, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()
	return ParseTable(file)
}

func decodeAddrPort(field string) (netip.Addr, uint16, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 2 {
		return netip.Addr{}, 0, fmt.Errorf("malformed address:port field %q", field)
	}

	addr, err := DecodeHexAddress(parts[0])
	if err != nil {
		return netip.Addr{}, 0, err
	}
	port, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return netip.Addr{}, 0, err
	}

	return addr, uint16(port), nil
}

// DecodeHexAddress decodes the kernel's reversed big-endian hexadecimal
// address encoding: 8 hex digits for IPv4 ("0100007F" is 127.0.0.1), 32
// for IPv6 where each 4-byte group is byte-swapped individually.
func DecodeHexAddress(s string) (netip.Addr, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid hex address %q: %w", s, err)
	}

	switch len(raw) {
	case 4:
		var b [4]byte
		for i := 0; i < 4; i++ {
			b[i] = raw[3-i]
		}
		return netip.AddrFrom4(b), nil
	case 16:
		var b [16]byte
		for group := 0; group < 4; group++ {
			for i := 0; i < 4; i++ {
				b[group*4+i] = raw[group*4+3-i]
			}
		}
		addr := netip.AddrFrom16(b)
		return addr.Unmap(), nil
	}

	return netip.Addr{}, fmt.Errorf("invalid hex address length %d in %q", len(raw), s)
}

// Owner resolves the local process serving an established connection
// from addr by scanning the kernel socket tables under root, normally
// /proc. An address that already disconnected resolves to pid 0; the
// caller treats that as absence, not as an error.
func Owner(root string, addr netip.Addr) (int, string) {
	addr = addr.Unmap()

	for _, table := range []string{"net/tcp", "net/tcp6"} {
		sockets, err := ReadTable(filepath.Join(root, table))
		if err != nil {
			continue
		}
		for _, socket := range sockets {
			if socket.State != StateEstablished || socket.RemoteAddr != addr {
				continue
			}
			if pid, comm := ProcessOf(root, socket.Inode); pid != 0 {
				return pid, comm
			}
		}
	}

	return 0, ""
}

// ProcessOf resolves the socket inode to the owning pid and command name
// by scanning /proc/<pid>/fd. A socket whose owner already exited
// resolves to pid 0; that race is expected and not an error.
func ProcessOf(procRoot string, inode uint64) (int, string) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, ""
	}

	target := fmt.Sprintf("socket:[%d]", inode)
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		fdDir := filepath.Join(procRoot, entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// Process gone or not ours to inspect.
			continue
		}

		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if link != target {
				continue
			}

			comm, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "comm"))
			if err != nil {
				return pid, ""
			}
			return pid, strings.TrimSpace(string(comm))
		}
	}

	return 0, ""
}

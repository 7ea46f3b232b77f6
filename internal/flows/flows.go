/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package flows

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/mdlayher/netlink"
	"github.com/ti-mo/conntrack"
	"github.com/ti-mo/netfilter"
)

// Tracker answers whether a remote address still has active tracked
// connections to this host, and which addresses are currently connected
// to a given local port. The daemon uses it to recognize authenticated
// relay clients and to skip enforcement against peers that already
// disconnected.
type Tracker struct {
	mu     sync.RWMutex
	active map[netip.Addr]int

	dial func() (*conntrack.Conn, error)
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[netip.Addr]int),
		dial: func() (*conntrack.Conn, error) {
			return conntrack.Dial(nil)
		},
	}
}

// Watch keeps the in-memory flow table current from conntrack events
// until ctx is cancelled. Without a running Watch, the per-call dump
// path still works; Watch only makes HasActiveFlow cheap.
func (t *Tracker) Watch(ctx context.Context) error {
	con, err := t.dial()
	if err != nil {
		return err
	}
	defer func() {
		_ = con.Close()
	}()

	if err := con.SetOption(netlink.NoENOBUFS, true); err != nil {
		return err
	}

	evCh := make(chan conntrack.Event, 1024)
	errCh, err := con.Listen(evCh, 1, netfilter.GroupsCT)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case event, ok := <-evCh:
			if !ok {
				return nil
			}
			t.observe(event)
		}
	}
}

func (t *Tracker) observe(event conntrack.Event) {
	if event.Flow == nil {
		return
	}
	src := event.Flow.TupleOrig.IP.SourceAddress
	if !src.IsValid() {
		return
	}
	src = src.Unmap()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Type {
	case conntrack.EventNew:
		t.active[src]++
	case conntrack.EventDestroy:
		if t.active[src] > 1 {
			t.active[src]--
		} else {
			delete(t.active, src)
		}
	}
}

// HasActiveFlow reports whether addr has at least one tracked
// connection. With a live watcher the answer comes from memory;
// otherwise the kernel table is dumped. Lookup failures degrade to
// "no active flow" since callers only use this as a hint.
func (t *Tracker) HasActiveFlow(addr netip.Addr) bool {
	addr = addr.Unmap()

	t.mu.RLock()
	if count, ok := t.active[addr]; ok && count > 0 {
		t.mu.RUnlock()
		return true
	}
	watching := len(t.active) > 0
	t.mu.RUnlock()
	if watching {
		return false
	}

	flows, err := t.dump()
	if err != nil {
		slog.Debug("Conntrack dump failed.", "error", err)
		return false
	}
	for _, flow := range flows {
		if flow.TupleOrig.IP.SourceAddress.Unmap() == addr {
			return true
		}
	}
	return false
}

// ConnectedTo lists the remote addresses with a tracked connection to
// the given local port, e.g. port 25 for relay clients.
func (t *Tracker) ConnectedTo(port uint16) ([]netip.Addr, error) {
	flows, err := t.dump()
	if err != nil {
		return nil, err
	}

	seen := make(map[netip.Addr]struct{})
	var addrs []netip.Addr
	for _, flow := range flows {
		if flow.TupleOrig.Proto.DestinationPort != port {
			continue
		}
		src := flow.TupleOrig.IP.SourceAddress.Unmap()
		if !src.IsValid() {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		addrs = append(addrs, src)
	}

	return addrs, nil
}

func (t *Tracker) dump() ([]conntrack.Flow, error) {
	con, err := t.dial()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = con.Close()
	}()

	return con.Dump(nil)
}

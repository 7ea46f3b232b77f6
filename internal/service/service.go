/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/netip"
	"time"

	"github.com/tschaefer/failwatchd/internal/classify"
	"github.com/tschaefer/failwatchd/internal/cluster"
	"github.com/tschaefer/failwatchd/internal/config"
	"github.com/tschaefer/failwatchd/internal/exempt"
	"github.com/tschaefer/failwatchd/internal/firewall"
	"github.com/tschaefer/failwatchd/internal/geoip"
	"github.com/tschaefer/failwatchd/internal/ports"
	"github.com/tschaefer/failwatchd/internal/sink"
	"github.com/tschaefer/failwatchd/internal/store"
	"github.com/tschaefer/failwatchd/internal/tailer"
	"github.com/tschaefer/failwatchd/internal/version"
)

// FlowChecker reports whether an address still has tracked connections.
// *flows.Tracker satisfies it.
type FlowChecker interface {
	HasActiveFlow(addr netip.Addr) bool
}

// Service is the daemon loop. One cycle reads all watched sources,
// classifies the new lines, resolves exemptions, enforces deny intents
// and sweeps expired entries. All state lives here; the collaborators
// are injected once at startup.
type Service struct {
	Config    *config.Config
	Store     *store.Store
	Engine    *firewall.Engine
	Bulk      *firewall.Engine
	Resolver  *exempt.Resolver
	Publisher cluster.Publisher
	GeoIP     *geoip.GeoIP
	Sink      *sink.Sink

	// Flows gates enforcement on remaining connections when
	// deny.skipinactive is set.
	Flows FlowChecker

	// ProcRoot is the proc filesystem root the process annotation reads
	// from, overridable for tests.
	ProcRoot string

	sources map[string]*tailer.Source
	strikes map[classify.Category]map[string]int
}

func NewService(cfg *config.Config, st *store.Store, engine, bulk *firewall.Engine,
	resolver *exempt.Resolver, snk *sink.Sink, publisher cluster.Publisher, geo *geoip.GeoIP) *Service {
	return &Service{
		Config:    cfg,
		Store:     st,
		Engine:    engine,
		Bulk:      bulk,
		Resolver:  resolver,
		Publisher: publisher,
		GeoIP:     geo,
		Sink:      snk,
		ProcRoot:  "/proc",
		sources:   make(map[string]*tailer.Source),
		strikes:   make(map[classify.Category]map[string]int),
	}
}

// Run drives cycles until ctx is cancelled, then flushes buffered
// packet-filter commands and releases the tail handles.
func (s *Service) Run(ctx context.Context) bool {
	slog.Info("Starting failure watcher.",
		"release", version.Release(), "commit", version.Commit(),
	)

	if s.Config.Firewall.Faststart {
		if err := s.reload(); err != nil {
			slog.Error("Bulk rule reload failed.", "error", err)
			return false
		}
	}

	ticker := time.NewTicker(s.Config.Cycle.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down failure watcher.")
			s.shutdown()
			return true
		case <-ticker.C:
			s.cycle(time.Now())
		}
	}
}

// reload reinstalls the firewall rules for all persisted entries through
// the buffered executor. One restore invocation per family and table
// instead of one process per rule.
func (s *Service) reload() error {
	if s.Bulk == nil {
		return errors.New("no bulk engine configured")
	}

	for kind, intent := range map[store.Kind]firewall.Intent{
		store.KindDeny:  firewall.IntentBlock,
		store.KindAllow: firewall.IntentAllow,
	} {
		entries, err := s.Store.List(kind)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := s.Bulk.Apply(intent, entry); err != nil {
				slog.Warn("Buffering rule failed.", "address", entry.Address, "error", err)
			}
		}
	}

	return s.Bulk.Flush()
}

// cycle is one READ_SOURCES, CLASSIFY, RESOLVE_EXEMPTION, ENFORCE,
// SWEEP_EXPIRY pass. Per-line and per-address failures never abort the
// cycle.
func (s *Service) cycle(now time.Time) {
	for _, watch := range s.Config.Watch {
		source, ok := s.sources[watch.Path]
		if !ok {
			opened, err := tailer.Open(watch.Path, watch.Category,
				s.Config.Flood.Lines, s.Config.Flood.Interval)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					slog.Warn("Log source not present, retrying next cycle.", "path", watch.Path)
				} else {
					slog.Warn("Opening log source failed.", "path", watch.Path, "error", err)
				}
				continue
			}
			source = opened
			s.sources[watch.Path] = source
		}

		lines, err := source.ReadNew()
		switch {
		case errors.Is(err, tailer.ErrFlood):
			s.Sink.Logger.Warn("Log flood detected, dropping backlog.",
				"action", "flood", "source", watch.Path, "category", watch.Category,
			)
			if err := source.Recover(); err != nil {
				slog.Warn("Log source recovery failed.", "path", watch.Path, "error", err)
				source.Close()
				delete(s.sources, watch.Path)
			}
			continue
		case err != nil:
			slog.Warn("Reading log source failed.", "path", watch.Path, "error", err)
			source.Close()
			delete(s.sources, watch.Path)
			continue
		}

		for _, line := range lines {
			event, ok := classify.Classify(line, watch.Path, classify.Category(watch.Category))
			if !ok {
				continue
			}
			s.enforce(event, classify.Category(watch.Category), now)
		}
	}

	s.sweep(now)
}

// enforce handles one classified event: exemption check, repeat-offense
// counting and finally the deny intent with its store entry.
func (s *Service) enforce(event classify.Event, category classify.Category, now time.Time) {
	decision := s.Resolver.IsExemptString(event.Address, false)
	if decision.Exempt {
		slog.Debug("Address is exempt from enforcement.",
			"address", event.Address, "set", decision.Set,
		)
		return
	}

	if !s.strike(category, event.Address) {
		return
	}

	if s.Config.Deny.SkipInactive && s.Flows != nil {
		if addr, err := netip.ParseAddr(event.Address); err == nil && !s.Flows.HasActiveFlow(addr) {
			slog.Debug("Address has no remaining flows, skipping enforcement.",
				"address", event.Address,
			)
			return
		}
	}

	entry := store.Entry{
		CreatedAt: now,
		Address:   event.Address,
		Scope:     store.ScopeBoth,
		Duration:  s.Config.Deny.Duration,
		Comment:   event.Reason,
		Kind:      store.KindDeny,
	}

	replaced, err := s.Store.Add(entry)
	if err != nil {
		slog.Warn("Persisting deny entry failed.", "address", event.Address, "error", err)
		return
	}
	if replaced != nil {
		if err := s.Engine.Apply(firewall.IntentUnblock, *replaced); err != nil {
			slog.Warn("Retiring replaced rule failed.", "address", replaced.Address, "error", err)
		}
	}

	if err := s.Engine.Apply(firewall.IntentBlock, entry); err != nil {
		slog.Warn("Enforcing deny failed.", "address", event.Address, "error", err)
	}

	s.record("block", entry, &event, category)
	s.publish(entry)
}

// strike counts repeat offenses per category and address. It reports
// true when the configured trigger threshold is reached, resetting the
// counter. A category without a threshold triggers on the first event.
func (s *Service) strike(category classify.Category, address string) bool {
	threshold := s.Config.Trigger[string(category)]
	if threshold <= 1 {
		return true
	}

	counts, ok := s.strikes[category]
	if !ok {
		counts = make(map[string]int)
		s.strikes[category] = counts
	}

	counts[address]++
	if counts[address] < threshold {
		slog.Debug("Offense below trigger threshold.",
			"address", address, "category", string(category),
			"count", counts[address], "threshold", threshold,
		)
		return false
	}

	delete(counts, address)
	return true
}

func (s *Service) sweep(now time.Time) {
	expired, err := s.Store.Sweep(now)
	if err != nil {
		slog.Warn("Expiry sweep failed.", "error", err)
	}

	for _, entry := range expired {
		intent := firewall.IntentUnblock
		action := "unblock"
		if entry.Kind == store.KindAllow {
			intent = firewall.IntentUnallow
			action = "unallow"
		}
		if err := s.Engine.Apply(intent, entry); err != nil {
			slog.Warn("Retiring expired rule failed.", "address", entry.Address, "error", err)
		}
		s.record(action, entry, nil, "")
		s.publish(entry)
	}
}

// record emits one enforcement event through the sink fan-out, annotated
// with the classification context and, when resolvable, the country of
// the offending address.
func (s *Service) record(action string, entry store.Entry, event *classify.Event, category classify.Category) {
	attrs := []any{
		"action", action,
		"address", entry.Address,
		"scope", string(entry.Scope),
		"ports", entry.Ports,
		"duration", int64(entry.Duration / time.Second),
	}
	if event != nil {
		attrs = append(attrs,
			"reason", event.Reason,
			"service", event.Service,
			"account", event.Account,
			"source", event.Source,
			"category", string(category),
		)
	}
	if addr, err := netip.ParseAddr(entry.Address); err == nil {
		if event != nil && s.ProcRoot != "" {
			if pid, comm := ports.Owner(s.ProcRoot, addr); pid != 0 {
				attrs = append(attrs, "pid", pid, "process", comm)
			}
		}
		if s.GeoIP != nil {
			if location := s.GeoIP.Location(addr); location != nil {
				attrs = append(attrs, "country", location.Country, "city", location.City)
			}
		}
	}

	s.Sink.Logger.Info("Enforcement event.", attrs...)
}

func (s *Service) publish(entry store.Entry) {
	if s.Publisher == nil {
		return
	}

	payload := cluster.Payload{
		Kind:     string(entry.Kind),
		Address:  entry.Address,
		Ports:    entry.Ports,
		Scope:    string(entry.Scope),
		Duration: int64(entry.Duration / time.Second),
		Comment:  entry.Comment,
	}
	if err := s.Publisher.Publish(payload); err != nil {
		slog.Warn("Publishing cluster payload failed.", "address", entry.Address, "error", err)
	}
}

func (s *Service) shutdown() {
	if err := s.Engine.Flush(); err != nil {
		slog.Warn("Flushing buffered commands failed.", "error", err)
	}
	for path, source := range s.sources {
		source.Close()
		delete(s.sources, path)
	}
}

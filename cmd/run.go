/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tschaefer/failwatchd/internal/addrset"
	"github.com/tschaefer/failwatchd/internal/cluster"
	"github.com/tschaefer/failwatchd/internal/config"
	"github.com/tschaefer/failwatchd/internal/exempt"
	"github.com/tschaefer/failwatchd/internal/firewall"
	"github.com/tschaefer/failwatchd/internal/flows"
	"github.com/tschaefer/failwatchd/internal/geoip"
	"github.com/tschaefer/failwatchd/internal/logger"
	"github.com/tschaefer/failwatchd/internal/profiler"
	"github.com/tschaefer/failwatchd/internal/service"
	"github.com/tschaefer/failwatchd/internal/sink"
	"github.com/tschaefer/failwatchd/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the failwatchd daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cobra.CheckErr(config.InitConfig(cfgFile))
		cfg, err := config.New()
		cobra.CheckErr(err)

		l := logger.Logger{Format: cfg.Log.Format, Level: cfg.Log.Level}
		if err := l.Initialize(); err != nil {
			cobra.CheckErr(fmt.Sprintf("Failed to create logger: %v", err))
		}

		snk, err := sink.NewSink(&cfg.Sink)
		if err != nil {
			cobra.CheckErr(fmt.Sprintf("Failed to initialize sink: %v", err))
		}

		var g *geoip.GeoIP
		if cfg.GeoIP.Database != "" {
			g, err = geoip.NewGeoIP(cfg.GeoIP.Database)
			if err != nil {
				cobra.CheckErr(fmt.Sprintf("Failed to open geoip database: %v", err))
			}
			defer func() {
				_ = g.Close()
			}()
		}

		if cfg.Profiler.Address != "" {
			p := profiler.NewProfiler(cfg.Profiler.Address)
			if err := p.Start(); err != nil {
				cobra.CheckErr(fmt.Sprintf("Failed to start profiler: %v", err))
			}
			defer func() {
				_ = p.Stop()
			}()
		}

		st := store.New(cfg.Store.DenyFile, cfg.Store.AllowFile)

		exec, err := firewall.NewImmediateExecutor()
		if err != nil {
			cobra.CheckErr(fmt.Sprintf("Failed to initialize packet filter: %v", err))
		}
		opts := firewall.Options{
			Table:       cfg.Firewall.Table,
			InputChain:  cfg.Firewall.InputChain,
			OutputChain: cfg.Firewall.OutputChain,
			DenyLimit:   cfg.Deny.Limit,
			Ledger:      st,
		}
		engine := firewall.NewEngine(exec, opts)
		var bulk *firewall.Engine
		if cfg.Firewall.Faststart {
			// Reloading persisted entries is a replay, not new denies;
			// the ceiling must not evict what is being reinstalled.
			bulkOpts := opts
			bulkOpts.DenyLimit = 0
			bulkOpts.Ledger = nil
			bulk = firewall.NewEngine(firewall.NewBufferedExecutor(), bulkOpts)
		}

		resolver, tracker, err := buildResolver(cfg)
		cobra.CheckErr(err)

		publisher := &cluster.LogPublisher{Logger: snk.Logger}

		svc := service.NewService(cfg, st, engine, bulk, resolver, snk, publisher, g)
		svc.Flows = tracker

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var group errgroup.Group
		group.Go(func() error {
			if err := tracker.Watch(ctx); err != nil {
				slog.Warn("Conntrack watcher stopped.", "error", err)
			}
			return nil
		})

		tranquil := svc.Run(ctx)
		stop()
		_ = group.Wait()
		if !tranquil {
			os.Exit(1)
		}
	},
}

// buildResolver wires the exemption checks: own interface addresses,
// the configured allow and ignore lists, and relay-client detection
// from the kernel flow table.
func buildResolver(cfg *config.Config) (*exempt.Resolver, *flows.Tracker, error) {
	own, err := exempt.OwnAddresses()
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate own addresses: %w", err)
	}

	allow := addrset.New("allow")
	for _, entry := range cfg.Exempt.Allow {
		if err := allow.Add(entry); err != nil {
			return nil, nil, fmt.Errorf("exempt.allow: %w", err)
		}
	}
	ignore := addrset.New("ignore")
	for _, entry := range cfg.Exempt.Ignore {
		if err := ignore.Add(entry); err != nil {
			return nil, nil, fmt.Errorf("exempt.ignore: %w", err)
		}
	}

	tracker := flows.NewTracker()
	relayPort := cfg.Relay.Port
	relayClients := func(addr netip.Addr) bool {
		clients, err := tracker.ConnectedTo(relayPort)
		if err != nil {
			slog.Debug("Relay client lookup failed.", "error", err)
			return false
		}
		for _, client := range clients {
			if client == addr {
				return true
			}
		}
		return false
	}

	return &exempt.Resolver{
		Own:          own,
		Allow:        allow,
		Ignore:       ignore,
		RelayClients: relayClients,
	}, tracker, nil
}

func init() {
	runCmd.CompletionOptions.SetDefaultShellCompDirective(cobra.ShellCompDirectiveNoFileComp)
}

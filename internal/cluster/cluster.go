/*
Copyright (c) 2025 Tobias Schäfer. All rights reserved.
Licensed under the MIT License, see LICENSE file in the project root for details.
*/
package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Payload is one enforcement decision as shared with cluster members.
// Kind is "deny" or "allow", Duration is in seconds, zero meaning
// permanent.
type Payload struct {
	Kind     string `json:"kind"`
	Address  string `json:"address"`
	Ports    string `json:"ports,omitempty"`
	Scope    string `json:"scope"`
	Duration int64  `json:"duration"`
	Comment  string `json:"comment,omitempty"`
}

// Publisher distributes enforcement decisions to interested peers.
type Publisher interface {
	Publish(payload Payload) error
}

// LogPublisher emits payloads as structured records through the
// configured sink fan-out, where journal, syslog or loki consumers pick
// them up.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(payload Payload) error {
	if payload.Address == "" {
		return fmt.Errorf("payload without address")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.Logger.Info("Cluster enforcement event.",
		"action", payload.Kind,
		"address", payload.Address,
		"scope", payload.Scope,
		"ports", payload.Ports,
		"duration", payload.Duration,
		"payload", string(raw),
	)

	return nil
}

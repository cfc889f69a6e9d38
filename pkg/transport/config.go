// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Defaults for connections that do not tune the transport.
const (
	defaultMaxPending    = 32 * 1024
	defaultReconnectWait = 2 * time.Second
)

// NatsConfig describes the broker connection of a settings session. Besides
// the usual address and credentials it carries the two knobs a device-side
// session cares about: how hard to chase a lost broker, and how much
// unflushed outbound data to tolerate before CanPublish reports
// backpressure and the republish drain pauses.
type NatsConfig struct {
	Address       string `json:"address"`         // NATS server address (e.g., "nats://localhost:4222")
	Username      string `json:"username"`        // Username for authentication (optional)
	Password      string `json:"password"`        // Password for authentication (optional)
	CredsFilePath string `json:"creds-file-path"` // Path to credentials file (optional)
	ReconnectWait string `json:"reconnect-wait"`  // Delay between reconnect attempts (optional)
	MaxPending    int    `json:"max-pending"`     // Outbound bytes buffered before backpressure (optional)
}

// Keys holds the global transport configuration loaded via Init.
var Keys = NatsConfig{
	Address:    "nats://localhost:4222",
	MaxPending: defaultMaxPending,
}

const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the NATS settings transport.",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222').",
            "type": "string"
        },
        "username": {
            "description": "Username for NATS authentication (optional).",
            "type": "string"
        },
        "password": {
            "description": "Password for NATS authentication (optional).",
            "type": "string"
        },
        "creds-file-path": {
            "description": "Path to NATS credentials file for authentication (optional).",
            "type": "string"
        },
        "reconnect-wait": {
            "description": "Delay between reconnect attempts, as a Go duration string (optional).",
            "type": "string"
        },
        "max-pending": {
            "description": "Outbound bytes buffered before publishes are deferred (optional).",
            "type": "integer",
            "minimum": 1024
        }
    },
    "required": ["address"]
}`

// Init merges rawConfig over the defaults in Keys and checks the result.
func Init(rawConfig json.RawMessage) error {
	if rawConfig == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("settings transport config: %w", err)
	}

	if Keys.Address == "" {
		return fmt.Errorf("settings transport config: address is required")
	}
	if Keys.MaxPending <= 0 {
		return fmt.Errorf("settings transport config: max-pending must be positive")
	}
	if Keys.ReconnectWait != "" {
		if d, err := time.ParseDuration(Keys.ReconnectWait); err != nil || d <= 0 {
			return fmt.Errorf("settings transport config: invalid reconnect-wait '%s'", Keys.ReconnectWait)
		}
	}
	return nil
}

func (c *NatsConfig) reconnectWait() time.Duration {
	if c.ReconnectWait == "" {
		return defaultReconnectWait
	}
	d, err := time.ParseDuration(c.ReconnectWait)
	if err != nil || d <= 0 {
		return defaultReconnectWait
	}
	return d
}

func (c *NatsConfig) maxPending() int {
	if c.MaxPending <= 0 {
		return defaultMaxPending
	}
	return c.MaxPending
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProgramConfig is the format of the configuration file. See below for the
// defaults.
type ProgramConfig struct {
	// Broker client id. Empty picks a random one.
	ClientID string `json:"client-id"`

	// Namespace root for this device's topics.
	Prefix string `json:"prefix"`

	// Address where the http server for status and metrics will listen on.
	HTTPAddr string `json:"http-addr"`

	// Interval between session ticks, as a duration string.
	TickInterval string `json:"tick-interval"`

	// Maximum encoded size of one settings value.
	MessageSize int `json:"message-size"`

	// NATS transport connection settings.
	Nats json.RawMessage `json:"nats"`
}

var Keys ProgramConfig = ProgramConfig{
	Prefix:       "cc/settings-demo",
	HTTPAddr:     ":8088",
	TickInterval: "100ms",
	MessageSize:  256,
	Nats:         json.RawMessage(`{"address":"nats://localhost:4222"}`),
}

// Init loads the configuration file at flagConfigFile over the defaults. A
// missing file keeps the defaults; an invalid one aborts.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Abortf("Config Init: Could not read config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
		}
		return
	}

	if err := validate(raw); err != nil {
		cclog.Abortf("Config Init: Invalid config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Abortf("Config Init: Could not decode config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
	}

	if Keys.Prefix == "" {
		cclog.Abort("Config Init: A non-empty topic prefix is required.")
	}
}

// validate checks the raw config file against the settings daemon schema
// before any of it is decoded into Keys.
func validate(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("config.json", configSchema)
	if err != nil {
		return fmt.Errorf("compiling settings config schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config does not match the settings schema: %w", err)
	}
	return nil
}

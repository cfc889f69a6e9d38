// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/cc-settings/internal/config"
	"github.com/ClusterCockpit/cc-settings/pkg/session"
	"github.com/ClusterCockpit/cc-settings/pkg/transport"
)

const logoString = `
 _____ _____     _____      _   _   _
/  __ \  __ \   /  ___|    | | | | (_)
| /  \/ /  \/   \ ` + "`" + `--.  ___| |_| |_ _ _ __   __ _ ___
| |   | |        ` + "`" + `--. \/ _ \ __| __| | '_ \ / _` + "`" + ` / __|
| \__/\ \__/\   /\__/ /  __/ |_| |_| | | | | (_| \__ \
 \____/\____/   \____/ \___|\__|\__|_|_| |_|\__, |___/
                                             __/ |
                                            |___/
`

var (
	date    string
	commit  string
	version string
)

type channelSettings struct {
	Gain    float64 `json:"gain"`
	Offset  float64 `json:"offset"`
	Enabled bool    `json:"enabled"`
}

type triggerSettings struct {
	Source string  `json:"source"`
	Level  float64 `json:"level"`
	Slope  string  `json:"slope"`
}

// deviceSettings is the runtime-tunable state of the demo device. The
// trigger block is applied as one unit so that source, level and slope can
// never be observed half-changed.
type deviceSettings struct {
	SampleRate float64            `json:"sample-rate"`
	Channels   [2]channelSettings `json:"channels"`
	Trigger    triggerSettings    `json:"trigger" settings:"atomic"`
	Comment    string             `json:"comment"`
}

func defaultSettings() *deviceSettings {
	return &deviceSettings{
		SampleRate: 1000,
		Channels: [2]channelSettings{
			{Gain: 1.0, Enabled: true},
			{Gain: 1.0},
		},
		Trigger: triggerSettings{Source: "internal", Level: 0.5, Slope: "rising"},
	}
}

func validateSettings(path string, current, candidate any) error {
	cand := candidate.(*deviceSettings)

	if cand.SampleRate <= 0 || cand.SampleRate > 1e6 {
		return fmt.Errorf("sample-rate %g out of range (0, 1e6]", cand.SampleRate)
	}
	for i, ch := range cand.Channels {
		if ch.Gain < 0 {
			return fmt.Errorf("channels/%d/gain must not be negative", i)
		}
	}
	if s := cand.Trigger.Slope; s != "rising" && s != "falling" {
		return fmt.Errorf("trigger slope %q must be rising or falling", s)
	}

	cclog.Infof("settings update on '%s' accepted", path)
	*current.(*deviceSettings) = *cand
	return nil
}

func main() {
	cliInit()

	if flagVersion {
		fmt.Print(logoString)
		fmt.Printf("Version:\t%s\n", version)
		fmt.Printf("Git hash:\t%s\n", commit)
		fmt.Printf("Build time:\t%s\n", date)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Abortf("Main: Parsing local '.env' file failed.\nError: %s\n", err.Error())
	}

	cclog.Init(flagLogLevel, flagLogDateTime)
	config.Init(flagConfigFile)

	if err := transport.Init(config.Keys.Nats); err != nil {
		cclog.Abortf("Main: Invalid NATS configuration.\nError: %s\n", err.Error())
	}

	tick, err := time.ParseDuration(config.Keys.TickInterval)
	if err != nil || tick <= 0 {
		cclog.Abortf("Main: Invalid tick-interval '%s'.\n", config.Keys.TickInterval)
	}

	name := config.Keys.ClientID
	if name == "" {
		name = "cc-settings"
	}
	tr, err := transport.Connect(name)
	if err != nil {
		cclog.Abortf("Main: Connecting the settings transport failed.\nError: %s\n", err.Error())
	}

	sess, err := session.New(session.Config{
		ClientID:    config.Keys.ClientID,
		Prefix:      config.Keys.Prefix,
		Transport:   tr,
		Settings:    defaultSettings(),
		MessageSize: config.Keys.MessageSize,
	})
	if err != nil {
		cclog.Abortf("Main: Creating the settings session failed.\nError: %s\n", err.Error())
	}

	// The session itself is single-threaded; the mutex only fences the
	// http status handlers off the tick loop.
	var mu sync.Mutex
	srv := startServer(config.Keys.HTTPAddr, func() ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		return json.Marshal(sess.Settings())
	})

	cclog.Infof("settings session '%s' serving prefix '%s'", sess.ClientID(), config.Keys.Prefix)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-sigs:
			cclog.Info("shutdown signal received")
			stopServer(srv)
			if err := tr.Close(); err != nil {
				cclog.Warnf("transport close failed: %v", err)
			}
			return

		case <-ticker.C:
			mu.Lock()
			_, err := sess.HandledUpdate(validateSettings)
			mu.Unlock()
			if err != nil {
				cclog.Errorf("settings tick failed: %v", err)
			}
		}
	}
}

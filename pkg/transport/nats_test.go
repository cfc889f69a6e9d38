// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubjectMapping(t *testing.T) {
	cases := []struct {
		topic   string
		subject string
	}{
		{"dt/sinara/stabilizer/alive", "dt.sinara.stabilizer.alive"},
		{"dt/sinara/stabilizer/settings/#", "dt.sinara.stabilizer.settings.>"},
		{"prefix/settings/adc/0/gain", "prefix.settings.adc.0.gain"},
		{"log", "log"},
	}

	for _, c := range cases {
		if got := toSubject(c.topic); got != c.subject {
			t.Errorf("toSubject(%q) = %q, want %q", c.topic, got, c.subject)
		}
	}

	// Inbound subjects round-trip back to topics (wildcards never arrive
	// on delivered messages).
	for _, c := range cases[:1] {
		if got := toTopic(c.subject); got != c.topic {
			t.Errorf("toTopic(%q) = %q, want %q", c.subject, got, c.topic)
		}
	}
}

func TestConfigInit(t *testing.T) {
	Keys = NatsConfig{Address: "nats://localhost:4222", MaxPending: defaultMaxPending}
	raw := json.RawMessage(`{"address":"nats://broker:4222","username":"u","password":"p","reconnect-wait":"500ms","max-pending":4096}`)
	if err := Init(raw); err != nil {
		t.Fatal(err)
	}
	if Keys.Address != "nats://broker:4222" || Keys.Username != "u" {
		t.Errorf("unexpected config: %+v", Keys)
	}
	if Keys.reconnectWait() != 500*time.Millisecond {
		t.Errorf("reconnect wait = %v, want 500ms", Keys.reconnectWait())
	}
	if Keys.maxPending() != 4096 {
		t.Errorf("max pending = %d, want 4096", Keys.maxPending())
	}

	cases := []string{
		`{"addres":"typo"}`,
		`{"address":""}`,
		`{"address":"nats://broker:4222","reconnect-wait":"soon"}`,
		`{"address":"nats://broker:4222","max-pending":-1}`,
	}
	for _, c := range cases {
		Keys = NatsConfig{Address: "nats://localhost:4222", MaxPending: defaultMaxPending}
		if err := Init(json.RawMessage(c)); err == nil {
			t.Errorf("config %s accepted", c)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := NatsConfig{}
	if cfg.reconnectWait() != defaultReconnectWait {
		t.Errorf("reconnect wait = %v, want %v", cfg.reconnectWait(), defaultReconnectWait)
	}
	if cfg.maxPending() != defaultMaxPending {
		t.Errorf("max pending = %d, want %d", cfg.maxPending(), defaultMaxPending)
	}
}

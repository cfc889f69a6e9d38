// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-settings/pkg/settings"
	"github.com/ClusterCockpit/cc-settings/pkg/transport"
)

type pub struct {
	topic   string
	payload string
	retain  bool
}

// mockTransport scripts the broker side of a session: connectivity,
// per-tick publish budget, queued inbound messages and poll errors.
type mockTransport struct {
	connected bool
	budget    int // publishes until CanPublish goes false; <0 is unlimited

	pubs    []pub
	subs    []string
	will    *pub
	inbox   []transport.Message
	pollErr error
}

func (m *mockTransport) IsConnected() bool { return m.connected }

func (m *mockTransport) CanPublish() bool { return m.connected && m.budget != 0 }

func (m *mockTransport) Publish(topic string, payload []byte, retain bool) error {
	if !m.connected {
		return fmt.Errorf("not connected")
	}
	if m.budget > 0 {
		m.budget--
	}
	m.pubs = append(m.pubs, pub{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (m *mockTransport) Subscribe(topic string) error {
	m.subs = append(m.subs, topic)
	return nil
}

func (m *mockTransport) SetWill(topic string, payload []byte, retain bool) error {
	m.will = &pub{topic: topic, payload: string(payload), retain: retain}
	return nil
}

func (m *mockTransport) Poll(fn func(transport.Message)) error {
	if m.pollErr != nil {
		err := m.pollErr
		m.pollErr = nil
		return err
	}
	for _, msg := range m.inbox {
		fn(msg)
	}
	m.inbox = nil
	return nil
}

func (m *mockTransport) Close() error { return nil }

type demoSettings struct {
	Rate float64    `json:"rate"`
	Gain [2]float64 `json:"gain"`
}

const testPrefix = "dt/sinara/stabilizer"

func newTestSession(t *testing.T) (*Session, *mockTransport, *clockwork.FakeClock) {
	t.Helper()

	tr := &mockTransport{connected: false, budget: -1}
	clock := clockwork.NewFakeClock()

	s, err := New(Config{
		ClientID:  "test-client",
		Prefix:    testPrefix,
		Transport: tr,
		Clock:     clock,
		Settings:  &demoSettings{Rate: 100, Gain: [2]float64{1, 2}},
	})
	require.NoError(t, err)
	return s, tr, clock
}

// bringUp walks a session from disconnected to the active state.
func bringUp(t *testing.T, s *Session, tr *mockTransport, clock *clockwork.FakeClock) {
	t.Helper()

	tr.connected = true
	for range 4 {
		_, err := s.Update()
		require.NoError(t, err)
	}
	require.Equal(t, StatePendingRepublish, s.State())

	clock.Advance(RepublishTimeout + time.Millisecond)
	_, err := s.Update()
	require.NoError(t, err)
	_, err = s.Update()
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())
}

func TestConnectionTrace(t *testing.T) {
	s, tr, clock := newTestSession(t)

	require.NotNil(t, tr.will)
	assert.Equal(t, pub{topic: testPrefix + "/alive", payload: "0", retain: true}, *tr.will)

	// Disconnected ticks stay in the initial state.
	_, err := s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateInitial, s.State())

	tr.connected = true
	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateConnectedToBroker, s.State())

	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StatePendingSubscribe, s.State())
	require.Len(t, tr.pubs, 1)
	assert.Equal(t, pub{topic: testPrefix + "/alive", payload: "1", retain: true}, tr.pubs[0])

	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StatePendingRepublish, s.State())
	assert.Equal(t, []string{testPrefix + "/settings/#"}, tr.subs)

	// The republish waits out its quiet period.
	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StatePendingRepublish, s.State())

	clock.Advance(RepublishTimeout + time.Millisecond)
	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateRepublishingSettings, s.State())

	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())

	want := []pub{
		{topic: testPrefix + "/alive", payload: "1", retain: true},
		{topic: testPrefix + "/settings/rate", payload: "100"},
		{topic: testPrefix + "/settings/gain/0", payload: "1"},
		{topic: testPrefix + "/settings/gain/1", payload: "2"},
	}
	assert.Equal(t, want, tr.pubs)
}

func TestRepublishHonorsBackpressure(t *testing.T) {
	s, tr, clock := newTestSession(t)

	tr.connected = true
	for range 4 {
		_, err := s.Update()
		require.NoError(t, err)
	}
	clock.Advance(RepublishTimeout + time.Millisecond)
	_, err := s.Update()
	require.NoError(t, err)
	require.Equal(t, StateRepublishingSettings, s.State())

	// Two publishes per tick: the drain must resume where it stopped.
	tr.budget = 2
	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateRepublishingSettings, s.State())

	tr.budget = 2
	_, err = s.Update()
	require.NoError(t, err)
	_, err = s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())

	var topics []string
	for _, p := range tr.pubs[1:] {
		topics = append(topics, p.topic)
	}
	assert.Equal(t, []string{
		testPrefix + "/settings/rate",
		testPrefix + "/settings/gain/0",
		testPrefix + "/settings/gain/1",
	}, topics)
}

func TestSetRequestAcceptedAndAcknowledged(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)
	tr.pubs = nil

	tr.inbox = []transport.Message{{
		Topic:   testPrefix + "/settings/rate",
		Payload: []byte("250"),
		Reply:   "operator/response",
	}}

	updated, err := s.Update()
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 250.0, s.Settings().(*demoSettings).Rate)

	require.Len(t, tr.pubs, 1)
	assert.Equal(t, "operator/response", tr.pubs[0].topic)
	assert.JSONEq(t, `{"code":0}`, tr.pubs[0].payload)
	assert.False(t, tr.pubs[0].retain)
}

func TestSetRequestVetoedByHandler(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)
	tr.pubs = nil

	tr.inbox = []transport.Message{{
		Topic:   testPrefix + "/settings/rate",
		Payload: []byte("1e9"),
		Reply:   "operator/response",
	}}

	updated, err := s.HandledUpdate(func(path string, current, candidate any) error {
		assert.Equal(t, "rate", path)
		if candidate.(*demoSettings).Rate > 1000 {
			return errors.New("rate out of range")
		}
		return settings.Copy(current, candidate)
	})
	require.NoError(t, err)
	assert.True(t, updated)

	// Vetoed requests leave the live tree untouched.
	assert.Equal(t, 100.0, s.Settings().(*demoSettings).Rate)

	require.Len(t, tr.pubs, 1)
	assert.JSONEq(t, `{"code":1,"msg":"rate out of range"}`, tr.pubs[0].payload)
}

func TestSetRequestTraversalErrors(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)

	cases := []struct {
		name    string
		topic   string
		payload string
	}{
		{"decode failure", testPrefix + "/settings/rate", `"fast"`},
		{"unknown field", testPrefix + "/settings/nope", "1"},
		{"bad index", testPrefix + "/settings/gain/7", "1"},
		{"path too long", testPrefix + "/settings/rate/x", "1"},
		{"root not atomic", testPrefix + "/settings", "{}"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr.pubs = nil
			tr.inbox = []transport.Message{{Topic: c.topic, Payload: []byte(c.payload)}}

			updated, err := s.Update()
			require.NoError(t, err)
			assert.False(t, updated)
			assert.Equal(t, 100.0, s.Settings().(*demoSettings).Rate)

			// Without a reply topic the response goes to the log topic.
			require.Len(t, tr.pubs, 1)
			assert.Equal(t, testPrefix+"/log", tr.pubs[0].topic)
			assert.Contains(t, tr.pubs[0].payload, `"code":1`)
		})
	}
}

func TestForeignTopicIsDropped(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)
	tr.pubs = nil

	tr.inbox = []transport.Message{{Topic: "other/device/settings/rate", Payload: []byte("1")}}

	updated, err := s.Update()
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, tr.pubs)
}

func TestDisconnectResetsLifecycle(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)

	tr.connected = false
	_, err := s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateInitial, s.State())

	// Reconnecting replays the whole lifecycle including the republish.
	tr.pubs = nil
	bringUp(t, s, tr, clock)
	var topics []string
	for _, p := range tr.pubs {
		topics = append(topics, p.topic)
	}
	assert.Contains(t, topics, testPrefix+"/settings/rate")
}

func TestSessionResetFromTransport(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)

	tr.pollErr = transport.ErrSessionReset
	updated, err := s.Update()
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, StateInitial, s.State())
}

func TestOtherPollErrorsPropagate(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)

	wantErr := errors.New("socket gone")
	tr.pollErr = wantErr
	_, err := s.Update()
	assert.ErrorIs(t, err, wantErr)
}

func TestForceRepublish(t *testing.T) {
	s, tr, clock := newTestSession(t)
	bringUp(t, s, tr, clock)
	tr.pubs = nil

	s.ForceRepublish()
	require.Equal(t, StateRepublishingSettings, s.State())

	_, err := s.Update()
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State())
	assert.Len(t, tr.pubs, 3)

	// A republish request before the lifecycle reaches the subscribed
	// states is ignored.
	tr.connected = false
	_, err = s.Update()
	require.NoError(t, err)
	s.ForceRepublish()
	assert.Equal(t, StateInitial, s.State())
}

func TestNewRejectsOversizedTrees(t *testing.T) {
	t.Run("topic length", func(t *testing.T) {
		type wide struct {
			Field [3]float64 `json:"a-field-with-a-rather-long-topic-segment-name-that-overflows"`
		}
		prefix := testPrefix + "/with/quite/a/few/extra/namespace/levels/attached/to/it"
		_, err := New(Config{
			Prefix:    prefix,
			Transport: &mockTransport{},
			Settings:  &wide{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "topic")
	})

	t.Run("recursion depth", func(t *testing.T) {
		type deep struct {
			V [2][2][2][2][2][2][2][2]int `json:"v"`
		}
		_, err := New(Config{
			Prefix:    testPrefix,
			Transport: &mockTransport{},
			Settings:  &deep{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "depth")
	})

	t.Run("bad prefix", func(t *testing.T) {
		_, err := New(Config{
			Prefix:    "/leading",
			Transport: &mockTransport{},
			Settings:  &demoSettings{},
		})
		require.Error(t, err)
	})
}

func TestDefaultClientID(t *testing.T) {
	s, err := New(Config{
		Prefix:    testPrefix,
		Transport: &mockTransport{},
		Settings:  &demoSettings{},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ClientID())
}

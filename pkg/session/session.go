// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session publishes a settings tree over a pub/sub broker and
// services remote set requests at runtime.
//
// All settings paths live behind a `<prefix>/settings/` topic prefix. With a
// prefix of `dt/sinara/stabilizer` and a settings path of `adc/0/gain`, the
// full topic is `dt/sinara/stabilizer/settings/adc/0/gain`. A retained
// liveness marker on `<prefix>/alive` carries "1" while the session is up and
// "0" once the connection dies.
//
// The session is single-threaded and cooperative: the host calls
// HandledUpdate (or Update) periodically from its main loop, and every call
// makes whatever progress the transport allows without blocking. After each
// (re)connection the whole tree is republished so late subscribers see every
// current value; the republish drain is resumable mid-pass and honors the
// transport's backpressure.
package session

import (
	"fmt"
	"strings"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ClusterCockpit/cc-settings/pkg/settings"
	"github.com/ClusterCockpit/cc-settings/pkg/transport"
)

const (
	// MaxTopicLength bounds any fully qualified topic, prefix included.
	MaxTopicLength = 128

	// MaxRecursionDepth bounds the settings tree depth and sizes the
	// enumeration cursor.
	MaxRecursionDepth = 8

	// RepublishTimeout is the quiet period after subscribing before the
	// initial republish starts, leaving room for retained values to
	// arrive first.
	RepublishTimeout = 2 * time.Second

	// KeepAlive is the connection keepalive delegated to the transport.
	KeepAlive = 60 * time.Second

	// DefaultMessageSize is the payload staging buffer size used when the
	// config does not choose one.
	DefaultMessageSize = 256
)

// State is the connection lifecycle state.
type State int

const (
	StateInitial State = iota
	StateConnectedToBroker
	StatePendingSubscribe
	StatePendingRepublish
	StateRepublishingSettings
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateConnectedToBroker:
		return "connected"
	case StatePendingSubscribe:
		return "pending-subscribe"
	case StatePendingRepublish:
		return "pending-republish"
	case StateRepublishingSettings:
		return "republishing"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Handler validates one accepted set request. path addresses the changed
// node, current points at the live settings value and candidate at a copy
// with the request applied. Returning nil accepts the request; the handler
// must itself promote the candidate, typically with settings.Copy(current,
// candidate). A non-nil return rejects the request and its text is sent back
// to the requester.
type Handler func(path string, current, candidate any) error

// Config describes a settings session.
type Config struct {
	// ClientID names the broker connection. Empty picks a random id.
	ClientID string

	// Prefix is the namespace root for all of this device's topics.
	Prefix string

	// Transport is the broker connection. Its will must still be
	// unregistered; New claims it for the liveness marker.
	Transport transport.Transport

	// Clock provides time for the republish deadline. Nil means wall
	// clock.
	Clock clockwork.Clock

	// Settings is a non-nil pointer to the initial settings value. The
	// session owns it afterwards.
	Settings any

	// MessageSize bounds encoded leaf payloads. Zero means
	// DefaultMessageSize.
	MessageSize int
}

// Session owns a settings tree and keeps it synchronized with the broker.
type Session struct {
	tr    transport.Transport
	tree  *settings.Tree
	clock clockwork.Clock

	state    State
	deadline time.Time

	iter    *settings.Iter
	staging []byte

	clientID       string
	prefix         string
	settingsPrefix string
	aliveTopic     string
	logTopic       string
}

// New builds a session, registers the liveness will on the transport and
// checks the tree against the session's static bounds.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.Prefix == "" || strings.HasPrefix(cfg.Prefix, "/") || strings.HasSuffix(cfg.Prefix, "/") {
		return nil, fmt.Errorf("session: prefix %q must be non-empty without leading or trailing '/'", cfg.Prefix)
	}

	tree, err := settings.NewTree(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	md := tree.Metadata()

	s := &Session{
		tr:             cfg.Transport,
		tree:           tree,
		clock:          cfg.Clock,
		clientID:       cfg.ClientID,
		prefix:         cfg.Prefix,
		settingsPrefix: cfg.Prefix + "/settings",
		aliveTopic:     cfg.Prefix + "/alive",
		logTopic:       cfg.Prefix + "/log",
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}

	if got := len(s.settingsPrefix) + 1 + md.MaxTopicSize; got > MaxTopicLength {
		return nil, fmt.Errorf("session: longest settings topic is %d bytes, limit %d", got, MaxTopicLength)
	}
	if md.MaxDepth > MaxRecursionDepth {
		return nil, fmt.Errorf("session: settings tree depth %d exceeds %d", md.MaxDepth, MaxRecursionDepth)
	}

	s.iter, err = tree.Iter(make([]int, MaxRecursionDepth), make([]byte, md.MaxTopicSize))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	size := cfg.MessageSize
	if size <= 0 {
		size = DefaultMessageSize
	}
	s.staging = make([]byte, size)

	if err := s.tr.SetWill(s.aliveTopic, []byte("0"), true); err != nil {
		return nil, fmt.Errorf("session: registering will: %w", err)
	}

	return s, nil
}

// Settings returns the live settings value.
func (s *Session) Settings() any { return s.tree.Value() }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// ClientID returns the broker client id in use.
func (s *Session) ClientID() string { return s.clientID }

// ForceRepublish restarts the full settings dump. Intended for when applying
// one setting had side effects on another.
func (s *Session) ForceRepublish() {
	switch s.state {
	case StatePendingRepublish, StateRepublishingSettings, StateActive:
		s.startRepublish()
	}
}

// HandledUpdate advances the connection lifecycle one step and services
// inbound traffic through handler. It never blocks; call it periodically.
// It reports whether a set request was accepted by the tree this tick.
func (s *Session) HandledUpdate(handler Handler) (bool, error) {
	if !s.tr.IsConnected() {
		s.reset()
	}

	switch s.state {
	case StateInitial:
		if s.tr.IsConnected() {
			s.setState(StateConnectedToBroker)
		}

	case StateConnectedToBroker:
		s.indicateAlive()

	case StatePendingSubscribe:
		s.subscribe()

	case StatePendingRepublish:
		if s.clock.Now().After(s.deadline) {
			s.startRepublish()
		}

	case StateRepublishingSettings:
		s.republish()

	case StateActive:
		// Nothing to drive; traffic handling below.
	}

	return s.handleTraffic(handler)
}

// Update services the session and adopts any set request the tree accepts,
// without validation. Use HandledUpdate to veto requests.
func (s *Session) Update() (bool, error) {
	return s.HandledUpdate(func(_ string, current, candidate any) error {
		return settings.Copy(current, candidate)
	})
}

func (s *Session) setState(next State) {
	if s.state != next {
		cclog.Debugf("settings session %s: %s -> %s", s.clientID, s.state, next)
	}
	s.state = next
	stateGauge.Set(float64(next))
}

func (s *Session) reset() {
	if s.state != StateInitial {
		resetsTotal.Inc()
	}
	s.setState(StateInitial)
}

func (s *Session) indicateAlive() {
	if err := s.tr.Publish(s.aliveTopic, []byte("1"), true); err == nil {
		s.setState(StatePendingSubscribe)
	}
}

func (s *Session) subscribe() {
	cclog.Info("settings session connected, subscribing")
	if err := s.tr.Subscribe(s.settingsPrefix + "/#"); err != nil {
		cclog.Warnf("settings subscription failed: %v", err)
		return
	}
	s.deadline = s.clock.Now().Add(RepublishTimeout)
	s.setState(StatePendingRepublish)
}

func (s *Session) startRepublish() {
	s.iter.Reset()
	s.setState(StateRepublishingSettings)
}

// republish runs one backpressured pass of the settings dump. When the
// transport refuses further publishes the iterator is left untouched so the
// next tick resumes at the same leaf.
func (s *Session) republish() {
	if !s.tr.CanPublish() {
		return
	}

	for {
		topic, ok := s.iter.Next()
		if !ok {
			s.setState(StateActive)
			return
		}

		n, err := s.tree.Get(topic, s.staging)
		if err != nil {
			// The path came from the enumerator, so only an
			// oversized value or one the codec cannot encode
			// can end up here.
			cclog.Errorf("republish of %q failed: %v", topic, err)
			continue
		}

		if err := s.tr.Publish(s.settingsPrefix+"/"+topic, s.staging[:n], false); err != nil {
			cclog.Warnf("republish of %q failed: %v", topic, err)
		} else {
			republishedTotal.Inc()
		}

		if !s.tr.CanPublish() {
			return
		}
	}
}

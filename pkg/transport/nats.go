// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

// inboxDepth bounds the number of inbound messages held between Poll calls.
const inboxDepth = 256

// NatsTransport implements Transport over a NATS connection.
//
// Core NATS has no retained messages and no last-will: the retain flag is
// accepted and ignored, and the registered will is published by Close on
// graceful shutdown. An ungraceful death still surfaces to peers through
// their own reconnect handling. Settings paths must not contain '.', which
// is the NATS token separator.
type NatsTransport struct {
	conn      *nats.Conn
	inbox     chan *nats.Msg
	highWater int

	mu  sync.Mutex
	sub *nats.Subscription

	will      *Message
	reconnect atomic.Bool
}

// Connect dials the NATS server named in the package configuration Keys.
// name identifies the connection to the server's monitoring endpoints.
func Connect(name string) (*NatsTransport, error) {
	return ConnectWith(&Keys, name)
}

// ConnectWith dials the NATS server described by cfg.
func ConnectWith(cfg *NatsConfig, name string) (*NatsTransport, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("NATS address is required")
	}

	t := &NatsTransport{
		inbox:     make(chan *nats.Msg, inboxDepth),
		highWater: cfg.maxPending(),
	}

	// A settings session has nothing to fall back to without its broker,
	// so keep retrying forever.
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.reconnectWait()),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cclog.Warnf("NATS disconnected: %v", err)
		}
	}))

	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		cclog.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		t.reconnect.Store(true)
	}))

	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		cclog.Errorf("NATS error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect failed: %w", err)
	}

	cclog.Infof("NATS connected to %s", cfg.Address)
	t.conn = nc
	return t, nil
}

// toSubject maps a '/'-separated topic onto a NATS subject. The '#'
// multi-level wildcard becomes '>'.
func toSubject(topic string) string {
	s := strings.ReplaceAll(topic, "/", ".")
	if strings.HasSuffix(s, ".#") {
		s = s[:len(s)-1] + ">"
	}
	return s
}

// toTopic is the inverse mapping for inbound subjects.
func toTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (t *NatsTransport) IsConnected() bool {
	return t.conn != nil && t.conn.IsConnected()
}

func (t *NatsTransport) CanPublish() bool {
	if !t.IsConnected() {
		return false
	}
	n, err := t.conn.Buffered()
	return err == nil && n < t.highWater
}

func (t *NatsTransport) Publish(topic string, payload []byte, _ bool) error {
	if err := t.conn.Publish(toSubject(topic), payload); err != nil {
		return fmt.Errorf("NATS publish to '%s' failed: %w", topic, err)
	}
	return nil
}

func (t *NatsTransport) Subscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			cclog.Warnf("NATS unsubscribe failed: %v", err)
		}
		t.sub = nil
	}

	sub, err := t.conn.ChanSubscribe(toSubject(topic), t.inbox)
	if err != nil {
		return fmt.Errorf("NATS subscribe to '%s' failed: %w", topic, err)
	}

	t.sub = sub
	cclog.Infof("NATS subscribed to '%s'", topic)
	return nil
}

func (t *NatsTransport) SetWill(topic string, payload []byte, retain bool) error {
	t.will = &Message{Topic: topic, Payload: payload}
	return nil
}

func (t *NatsTransport) Poll(fn func(Message)) error {
	if t.reconnect.Swap(false) {
		return ErrSessionReset
	}

	for {
		select {
		case m := <-t.inbox:
			fn(Message{
				Topic:   toTopic(m.Subject),
				Payload: m.Data,
				Reply:   toTopic(m.Reply),
			})
		default:
			return nil
		}
	}
}

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub != nil {
		if err := t.sub.Unsubscribe(); err != nil {
			cclog.Warnf("NATS unsubscribe failed: %v", err)
		}
		t.sub = nil
	}

	if t.conn == nil {
		return nil
	}

	if t.will != nil && t.conn.IsConnected() {
		if err := t.conn.Publish(toSubject(t.will.Topic), t.will.Payload); err != nil {
			cclog.Warnf("NATS will publish failed: %v", err)
		}
	}

	if err := t.conn.Flush(); err != nil {
		cclog.Warnf("NATS flush on close failed: %v", err)
	}
	t.conn.Close()
	cclog.Info("NATS connection closed")
	return nil
}

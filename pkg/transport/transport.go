// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport abstracts the pub/sub broker connection consumed by the
// settings session. The session drives it strictly non-blocking: inbound
// traffic is drained through Poll, outbound progress is gated on CanPublish.
//
// The one concrete implementation speaks NATS. Topics use '/'-separated
// MQTT-style paths with a trailing "/#" subscription wildcard; the NATS
// adapter maps them onto subject tokens.
package transport

import "errors"

// ErrSessionReset is returned by Poll after the broker session was torn down
// and re-established. Subscriptions and retained liveness state must be
// assumed lost; the session reacts by restarting its connection lifecycle.
var ErrSessionReset = errors.New("broker session reset")

// Message is one inbound request. Reply carries the requester's response
// topic and is echoed back by the session; it is empty when the requester did
// not ask for a direct response.
type Message struct {
	Topic   string
	Payload []byte
	Reply   string
}

// Transport is a non-blocking broker connection.
type Transport interface {
	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// CanPublish reports whether another at-most-once publish would be
	// accepted right now. A false result is backpressure, not an error.
	CanPublish() bool

	// Publish sends payload on topic at-most-once. The retain flag is a
	// request to the broker to keep the message for late subscribers;
	// brokers without retention accept and ignore it.
	Publish(topic string, payload []byte, retain bool) error

	// Subscribe registers interest in topic, which may end in the "/#"
	// multi-level wildcard. A repeated call replaces the subscription.
	Subscribe(topic string) error

	// SetWill registers a message the broker (or the adapter, on graceful
	// shutdown) emits when the connection dies. Must be called before the
	// connection is used.
	SetWill(topic string, payload []byte, retain bool) error

	// Poll hands every pending inbound message to fn and returns without
	// blocking once none remain.
	Poll(fn func(Message)) error

	// Close emits the will and tears the connection down.
	Close() error
}

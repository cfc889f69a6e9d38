// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_settings_updates_applied_total",
		Help: "Set requests accepted by tree and handler.",
	})

	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_settings_updates_rejected_total",
		Help: "Set requests vetoed by the validation handler.",
	})

	traversalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_settings_traversal_errors_total",
		Help: "Set requests failing path traversal or decoding.",
	})

	republishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_settings_republished_topics_total",
		Help: "Settings topics published during republish passes.",
	})

	resetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_settings_session_resets_total",
		Help: "Lifecycle resets caused by disconnects or session loss.",
	})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_settings_session_state",
		Help: "Current session lifecycle state (0 initial .. 5 active).",
	})
)

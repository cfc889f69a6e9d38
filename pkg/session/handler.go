// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"encoding/json"
	"errors"
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/cc-settings/pkg/transport"
)

// Response is the per-request acknowledgement published on the requester's
// reply topic, or on `<prefix>/log` when none was given.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

const responseErrorCode = 1

// fallbackReason replaces reason strings that would not fit the staging
// buffer.
const fallbackReason = "Configuration Error"

func (s *Session) errorResponse(err error) Response {
	msg := err.Error()
	if len(msg) > len(s.staging) {
		msg = fallbackReason
	}
	return Response{Code: responseErrorCode, Msg: msg}
}

// handleTraffic drains inbound set requests. Each request is applied to a
// working copy of the tree; only the handler promotes it into the live tree.
// Traversal and decode failures never fault the session, they are reported
// back to the requester.
func (s *Session) handleTraffic(handler Handler) (bool, error) {
	updated := false

	err := s.tr.Poll(func(m transport.Message) {
		rest, ok := strings.CutPrefix(m.Topic, s.settingsPrefix)
		if !ok {
			cclog.Infof("unexpected settings topic: %s", m.Topic)
			return
		}
		// The empty tail addresses the root.
		path := strings.TrimPrefix(rest, "/")

		var resp Response
		candidate := s.tree.Clone()
		if serr := candidate.Set(path, m.Payload); serr != nil {
			traversalErrorsTotal.Inc()
			resp = s.errorResponse(serr)
		} else {
			updated = true
			if herr := handler(path, s.tree.Value(), candidate.Value()); herr != nil {
				rejectedTotal.Inc()
				resp = s.errorResponse(herr)
			} else {
				appliedTotal.Inc()
				resp = Response{Code: 0}
			}
		}

		replyTo := m.Reply
		if replyTo == "" {
			replyTo = s.logTopic
		}

		payload, merr := json.Marshal(resp)
		if merr != nil {
			payload = []byte(`{"code":1,"msg":"` + fallbackReason + `"}`)
		}
		if perr := s.tr.Publish(replyTo, payload, false); perr != nil {
			cclog.Warnf("settings response publish failed: %v", perr)
		}
	})
	if err != nil {
		if errors.Is(err, transport.ErrSessionReset) {
			cclog.Warn("settings broker session reset")
			s.reset()
			return false, nil
		}
		return updated, err
	}

	return updated, nil
}

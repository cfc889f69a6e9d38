// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import "github.com/ClusterCockpit/cc-settings/pkg/transport"

var configSchema = `
	{
  "type": "object",
  "properties": {
    "client-id": {
      "description": "Broker client id. Empty picks a random one.",
      "type": "string"
    },
    "prefix": {
      "description": "Namespace root for this device's topics, without leading or trailing '/'.",
      "type": "string"
    },
    "http-addr": {
      "description": "Address where the http server for status and metrics will listen on (for example: 'localhost:8088').",
      "type": "string"
    },
    "tick-interval": {
      "description": "Interval between session ticks, as a Go duration string.",
      "type": "string"
    },
    "message-size": {
      "description": "Maximum encoded size of one settings value in bytes.",
      "type": "integer",
      "minimum": 16
    },
    "nats": ` + transport.ConfigSchema + `
  }
}`

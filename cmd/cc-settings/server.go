// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-settings.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"net/http"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startServer exposes the device's status surface: the current settings
// tree, a liveness probe and the prometheus metrics.
func startServer(addr string, snapshot func() ([]byte, error)) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/settings", func(rw http.ResponseWriter, _ *http.Request) {
		body, err := snapshot()
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.Write(body)
	}).Methods(http.MethodGet)

	r.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler())

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("status server failed: %v", err)
		}
	}()

	cclog.Infof("status server listening on %s", addr)
	return srv
}

func stopServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		cclog.Warnf("status server shutdown: %v", err)
	}
}

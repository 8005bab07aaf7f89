// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/knowctl/knowctl/pkg/know/config"
	"github.com/knowctl/knowctl/pkg/know/index"
	"github.com/knowctl/knowctl/pkg/know/loader"
	"github.com/knowctl/knowctl/pkg/know/metrics"
)

// knowServer holds the HTTP adapter's state (spec §6 "external request ->
// adapter -> LoadRequest -> Loader" path, HTTP variant).
type knowServer struct {
	rt *config.Runtime
	ld *loader.Loader
}

// runServe starts a local HTTP server exposing POST /load and GET
// /metrics, the HTTP adapter named in spec §6. Mirrors the teacher's
// mux-plus-graceful-shutdown shape.
func runServe(args []string, globals globalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", getEnv("KNOWCTL_SERVE_PORT", "8080"), "Port to listen on")
	_ = fs.Parse(args)

	rt := loadRuntime(globals)
	if _, err := rt.Index.Scan(context.Background()); err != nil {
		fatal(err, globals.JSON)
	}

	exp := metrics.New()
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	exp.Run(metricsCtx, rt.Bus)
	defer stopMetrics()
	defer exp.Stop()

	srv := &knowServer{rt: rt, ld: rt.NewLoader()}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/load", srv.handleLoad)
	mux.Handle("/metrics", promhttp.HandlerFor(exp.Registry(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              ":" + *port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down knowctl server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	log.Printf("knowctl server starting on http://0.0.0.0:%s", *port)
	log.Printf("Content root: %s", rt.Settings.ContentRoot)
	log.Println("Endpoints: POST /load, GET /metrics, GET /health")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func (s *knowServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"content_root": s.rt.Settings.ContentRoot,
	})
}

// loadRequestBody mirrors spec §6's HTTP request shape: POST /load with a
// JSON LoadRequest, JSON response with the same shape as MCP.
type loadRequestBody struct {
	Task              string   `json:"task"`
	Layers            []string `json:"layers,omitempty"`
	TokenBudget       int      `json:"token_budget,omitempty"`
	OverrideTimeoutMs int      `json:"override_timeout_ms,omitempty"`
	CorrelationID     string   `json:"correlation_id,omitempty"`
}

func (s *knowServer) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body loadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := loader.Request{
		Task:              body.Task,
		TokenBudget:       body.TokenBudget,
		OverrideTimeoutMs: body.OverrideTimeoutMs,
		CorrelationID:     body.CorrelationID,
	}
	if req.TokenBudget == 0 {
		req.TokenBudget = s.rt.Settings.Loading.MaxTokens
	}
	for _, l := range body.Layers {
		req.ExplicitLayers = append(req.ExplicitLayers, index.LayerID(l))
	}

	res, err := s.ld.Load(r.Context(), req)
	if err != nil {
		// Spec §6: 400 for BadRequest, else the non-bad-request result
		// below still returns 200 with its own status field.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"content":            string(res.Content),
		"status":             res.Status,
		"layers_loaded":      res.LayersLoaded,
		"layers_requested":   res.LayersRequested,
		"duration_ms":        res.DurationMs,
		"approximate_tokens": res.ApproximateTokens,
		"warnings":           res.Warnings,
		"correlation_id":     res.CorrelationID,
	})
}

func getEnv(key, fallbackValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallbackValue
}

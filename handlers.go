package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// newHTTPServer creates the optional status server (-http), exposing a
// health check and a summary of the most recent pipeline run for
// operators running the stitcher as a long-lived service.
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
		}{Status: "ok", Timestamp: time.Now()}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("[HTTP] encoding health status: %v", err)
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /status request from %s", r.RemoteAddr)
		result, err, ran := app.LastResult()
		w.Header().Set("Content-Type", "application/json")
		resp := struct {
			Ran         bool     `json:"ran"`
			Error       string   `json:"error,omitempty"`
			Components  int      `json:"components"`
			OutputPaths []string `json:"outputPaths"`
		}{Ran: ran, Components: len(result.Components), OutputPaths: result.OutputPaths}
		if err != nil {
			resp.Error = err.Error()
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("[HTTP] encoding status: %v", err)
		}
	})

	return mux
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	schema "github.com/bureau-foundation/apm/lib/schema/apm"
	"github.com/bureau-foundation/apm/lib/service"
	"github.com/bureau-foundation/apm/lib/transport"
)

// maxIntakeBody bounds one intake request body.
const maxIntakeBody = 16 << 20

// collector stores intake batches in memory and serves one central
// configuration document to every agent.
type collector struct {
	logger *slog.Logger
	maxAge time.Duration

	mu       sync.Mutex
	metadata []schema.Metadata
	events   []schema.Event
	batches  int
	flushes  int
	rejected int

	// central is the raw JSONC document, nil when central
	// configuration is off. etag identifies its content.
	central []byte
	etag    string
}

func newCollector(logger *slog.Logger, maxAge time.Duration) *collector {
	return &collector{logger: logger, maxAge: maxAge}
}

// setCentralConfig validates and installs a central-config document.
// A nil document turns central configuration off.
func (c *collector) setCentralConfig(document []byte) error {
	var etag string
	if document != nil {
		if _, err := transport.ParseCentralConfig(document); err != nil {
			return err
		}
		sum := blake3.Sum256(document)
		etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if etag != c.etag {
		c.logger.Info("central config updated", "etag", etag)
	}
	c.central, c.etag = document, etag
	return nil
}

// handler routes the agent-facing endpoints, which require the
// configured credentials, and the unauthenticated /_mock debug
// endpoints.
func (c *collector) handler(secretToken, apiKey string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+transport.IntakePath,
		service.RequireAuthorization(secretToken, apiKey, http.HandlerFunc(c.handleIntake)))
	mux.Handle("GET "+transport.CentralConfigPath,
		service.RequireAuthorization(secretToken, apiKey, http.HandlerFunc(c.handleCentralConfig)))
	mux.HandleFunc("GET /_mock/events", c.handleEvents)
	mux.HandleFunc("DELETE /_mock/events", c.handleReset)
	mux.HandleFunc("GET /_mock/status", c.handleStatus)
	return mux
}

func (c *collector) handleIntake(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIntakeBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.reject(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		c.reject(w, http.StatusBadRequest, err)
		return
	}
	batch, err := transport.DecodeRequest(body, r.Header.Get("Content-Encoding"), r.Header.Get(transport.HeaderDigest))
	if err != nil {
		c.reject(w, http.StatusBadRequest, err)
		return
	}
	events, err := batch.DecodeEvents()
	if err != nil {
		c.reject(w, http.StatusBadRequest, err)
		return
	}

	c.mu.Lock()
	c.metadata = append(c.metadata, batch.Metadata)
	c.events = append(c.events, events...)
	c.batches++
	if batch.Flushed || r.Header.Get(transport.HeaderFlushed) == "true" {
		c.flushes++
	}
	c.mu.Unlock()

	c.logger.Debug("batch received",
		"service", batch.Metadata.Service.Name,
		"events", len(events),
		"bytes", len(body),
		"encoding", r.Header.Get("Content-Encoding"),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (c *collector) reject(w http.ResponseWriter, status int, err error) {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
	c.logger.Warn("rejecting batch", "status", status, "error", err)
	http.Error(w, err.Error(), status)
}

func (c *collector) handleCentralConfig(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("service.name") == "" {
		http.Error(w, "service.name is required", http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	document, etag := c.central, c.etag
	c.mu.Unlock()

	w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(int(c.maxAge/time.Second)))
	if document == nil {
		http.Error(w, "central configuration is disabled", http.StatusForbidden)
		return
	}
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(document)
}

// eventsResponse is the debug view of everything received.
type eventsResponse struct {
	Batches      int                   `json:"batches"`
	Transactions []*schema.Transaction `json:"transactions"`
	Spans        []*schema.Span        `json:"spans"`
	Errors       []*schema.Error       `json:"errors"`
}

func (c *collector) handleEvents(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	response := eventsResponse{Batches: c.batches}
	for _, event := range c.events {
		switch event.Kind {
		case schema.KindTransaction:
			response.Transactions = append(response.Transactions, event.Transaction)
		case schema.KindSpan:
			response.Spans = append(response.Spans, event.Span)
		case schema.KindError:
			response.Errors = append(response.Errors, event.Error)
		}
	}
	c.mu.Unlock()
	writeJSON(w, response)
}

func (c *collector) handleReset(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.metadata, c.events = nil, nil
	c.batches, c.flushes, c.rejected = 0, 0, 0
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse summarizes what the collector has received.
type statusResponse struct {
	Batches     int    `json:"batches"`
	Events      int    `json:"events"`
	Flushes     int    `json:"flushes"`
	Rejected    int    `json:"rejected"`
	CentralETag string `json:"central_etag,omitempty"`
	LastService string `json:"last_service,omitempty"`
}

func (c *collector) handleStatus(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	response := statusResponse{
		Batches:     c.batches,
		Events:      len(c.events),
		Flushes:     c.flushes,
		Rejected:    c.rejected,
		CentralETag: c.etag,
	}
	if n := len(c.metadata); n > 0 {
		response.LastService = c.metadata[n-1].Service.Name
	}
	c.mu.Unlock()
	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}

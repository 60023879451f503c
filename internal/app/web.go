// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/shot_detector/internal/detector"
	"github.com/relabs-tech/shot_detector/internal/link"
	"github.com/relabs-tech/shot_detector/internal/naming"
	"github.com/relabs-tech/shot_detector/internal/trigger"
)

// Status is what a peer reports to its web page and display.
type Status struct {
	Role          string              `json:"role"`
	Recording     bool                `json:"recording"`
	Activated     bool                `json:"activated"`
	Reachable     bool                `json:"reachable"`
	FilesReceived int                 `json:"filesReceived"`
	TriggerWord   string              `json:"triggerWord,omitempty"`
	Telemetry     *detector.Telemetry `json:"telemetry,omitempty"`
	Recordings    *naming.Sorted      `json:"recordings,omitempty"`
}

// Controls are the actions exposed over HTTP. Nil entries answer 501.
type Controls struct {
	SetRecording   func(on bool) error
	Mark           func() error
	ResetFiles     func()
	SetTriggerWord func(word string) error
}

const statusPushInterval = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// allow all origins
		return true
	},
}

// StatusServer serves the peer status as JSON and over a websocket.
type StatusServer struct {
	addr     string
	status   func() Status
	controls Controls
	log      zerolog.Logger
	push     time.Duration
}

// NewStatusServer creates a server on addr (":8080").
func NewStatusServer(addr string, status func() Status, controls Controls, logger zerolog.Logger) *StatusServer {
	return &StatusServer{
		addr:     addr,
		status:   status,
		controls: controls,
		log:      logger.With().Str("component", "web").Logger(),
		push:     statusPushInterval,
	}
}

// Handler returns the HTTP routes.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/record", s.handleRecord)
	mux.HandleFunc("POST /api/mark", s.handleMark)
	mux.HandleFunc("POST /api/files/reset", s.handleReset)
	mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	mux.HandleFunc("GET /ws/status", s.handleWS)
	return mux
}

// Run serves until ctx is done.
func (s *StatusServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("web server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("json encode error")
	}
}

func (s *StatusServer) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, link.ErrLinkUnavailable), errors.Is(err, detector.ErrDeviceUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, trigger.ErrEmptyTriggerWord):
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *StatusServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.controls.SetRecording == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	var req struct {
		Recording *bool `json:"recording"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recording == nil {
		http.Error(w, `body must be {"recording":bool}`, http.StatusBadRequest)
		return
	}
	if err := s.controls.SetRecording(*req.Recording); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *StatusServer) handleMark(w http.ResponseWriter, _ *http.Request) {
	if s.controls.Mark == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	if err := s.controls.Mark(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StatusServer) handleReset(w http.ResponseWriter, _ *http.Request) {
	if s.controls.ResetFiles == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	s.controls.ResetFiles()
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *StatusServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.controls.SetTriggerWord == nil {
		http.Error(w, "not supported", http.StatusNotImplemented)
		return
	}
	var req struct {
		Word string `json:"word"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `body must be {"word":string}`, http.StatusBadRequest)
		return
	}
	if err := s.controls.SetTriggerWord(req.Word); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

// handleWS pushes the status whenever it changes.
func (s *StatusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	var last []byte
	for {
		data, err := json.Marshal(s.status())
		if err != nil {
			s.log.Warn().Err(err).Msg("status encode error")
			return
		}
		if !bytes.Equal(data, last) {
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			last = data
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

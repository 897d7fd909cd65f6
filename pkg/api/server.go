// volumed
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of volumed.
//
// volumed is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// volumed is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with volumed.  If not, see <http://www.gnu.org/licenses/>.

// Package api serves the volume commands as JSON-RPC 2.0 over a websocket
// and pushes volume notifications to every connected client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/volumed/pkg/api/middleware"
	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/api/validation"
	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/ZaparooProject/volumed/pkg/notify"
	"github.com/ZaparooProject/volumed/pkg/service/broker"
	"github.com/ZaparooProject/volumed/pkg/volume"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	// APIPath is the websocket endpoint.
	APIPath = "/api"

	subscriberBuffer  = 32
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var (
	JSONRPCErrorParseError = models.ErrorObject{
		Code:    -32700,
		Message: "Parse error",
	}
	JSONRPCErrorInvalidRequest = models.ErrorObject{
		Code:    -32600,
		Message: "Invalid Request",
	}
	JSONRPCErrorMethodNotFound = models.ErrorObject{
		Code:    -32601,
		Message: "Method not found",
	}
	JSONRPCErrorInvalidParams = models.ErrorObject{
		Code:    -32602,
		Message: "Invalid params",
	}
	JSONRPCErrorInternalError = models.ErrorObject{
		Code:    -32603,
		Message: "Internal error",
	}
	JSONRPCErrorRateLimited = models.ErrorObject{
		Code:    -32000,
		Message: "Rate limit exceeded",
	}
	// JSONRPCErrorVolume carries the description of a volume status.
	JSONRPCErrorVolume = models.ErrorObject{
		Code:    -32001,
		Message: "Volume error",
	}
)

var errRateLimited = errors.New("rate limited")

// RequestEnv is passed to every method handler.
type RequestEnv struct {
	Params  json.RawMessage
	ID      uuid.UUID
	IsLocal bool
}

type methodFunc func(RequestEnv) (any, error)

// Server owns the HTTP router, the websocket sessions and the method table.
type Server struct {
	cfg         *config.Instance
	vol         *volume.Volume
	client      *volume.Client
	notifier    *notify.Notifier
	broker      *broker.Broker
	clock       clockwork.Clock
	ws          *melody.Melody
	ipLimiter   *middleware.IPRateLimiter
	destructive *middleware.MethodRateLimiter
	methods     map[string]methodFunc
}

// Options tune a Server. Zero values use the defaults.
type Options struct {
	Clock clockwork.Clock
	// DestructiveInterval spaces out format and eject calls.
	DestructiveInterval time.Duration
}

//nolint:gocritic // options copied on purpose
func NewServer(
	cfg *config.Instance,
	vol *volume.Volume,
	notifier *notify.Notifier,
	brk *broker.Broker,
	opts Options,
) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DestructiveInterval <= 0 {
		opts.DestructiveInterval = middleware.DefaultMethodInterval
	}

	s := &Server{
		cfg:       cfg,
		vol:       vol,
		client:    vol.NewClient("api"),
		notifier:  notifier,
		broker:    brk,
		clock:     opts.Clock,
		ws:        melody.New(),
		ipLimiter: middleware.NewIPRateLimiterWithClock(opts.Clock),
		destructive: middleware.NewMethodRateLimiter(
			opts.DestructiveInterval,
			models.MethodVolumeFormat,
			models.MethodVolumeEject,
		),
	}
	s.methods = map[string]methodFunc{
		models.MethodVolumeStatus: s.handleStatus,
		models.MethodVolumeInfo:   s.handleInfo,
		models.MethodVolumeFormat: s.handleFormat,
		models.MethodVolumeEject:  s.handleEject,
		models.MethodVolumeStat:   s.handleStat,
		models.MethodVolumeRead:   s.handleReadDir,
		models.MethodVersion:      handleVersion,
	}
	return s
}

func (s *Server) handleRequest(env RequestEnv, req models.RequestObject) (any, error) {
	log.Debug().Str("method", req.Method).Msg("received request")

	fn, ok := s.methods[strings.ToLower(req.Method)]
	if !ok {
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
	if !s.destructive.AllowAt(req.Method, s.clock.Now()) {
		return nil, errRateLimited
	}

	env.Params = req.Params
	return fn(env)
}

func (s *Server) handleStatus(RequestEnv) (any, error) {
	return notify.StatusPayload(s.vol), nil
}

func (s *Server) handleInfo(RequestEnv) (any, error) {
	return InfoResponse(s.vol.Info()), nil
}

// InfoResponse converts an info snapshot, keeping both query errors.
func InfoResponse(info volume.Info) models.VolumeInfoResponse {
	resp := models.VolumeInfoResponse{
		Status:         info.Status.String(),
		Label:          info.Label,
		FSType:         info.Geometry.Type.String(),
		Serial:         info.Serial,
		ClusterSectors: info.Geometry.ClusterSectors,
		SectorSize:     info.Geometry.SectorSize,
	}
	if info.LabelErr != nil {
		msg := volume.Describe(info.LabelErr)
		resp.LabelError = &msg
	}
	if info.FreeErr != nil {
		msg := volume.Describe(info.FreeErr)
		resp.FreeError = &msg
	} else {
		resp.TotalKB = info.TotalKB()
		resp.FreeKB = info.FreeKB()
	}
	return resp
}

func (s *Server) handleFormat(RequestEnv) (any, error) {
	log.Info().Msg("formatting SD card on API request")
	st := s.vol.Format()
	if s.notifier != nil {
		s.notifier.Formatted(st)
	}
	return models.VolumeFormatResponse{
		Status: st.String(),
		Code:   int(st),
		Volume: notify.StatusPayload(s.vol),
	}, nil
}

func (s *Server) handleEject(RequestEnv) (any, error) {
	closed, ejected := s.vol.Eject()
	log.Info().Int("closed", closed).Bool("ejected", ejected).Msg("SD card ejected on API request")
	if ejected && s.notifier != nil {
		s.notifier.Ejected()
	}
	return models.VolumeEjectResponse{ClosedHandles: closed}, nil
}

func fileInfoResponse(fi volume.FileInfo) models.FileInfoResponse {
	return models.FileInfoResponse{
		Name:    fi.Name,
		Size:    fi.Size,
		Attr:    uint8(fi.Attr),
		Dir:     fi.IsDir(),
		ModTime: fi.ModTime,
	}
}

func (s *Server) handleStat(env RequestEnv) (any, error) {
	var params models.PathParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}
	fi, err := s.client.Stat(params.Path)
	if err != nil {
		return nil, err
	}
	return fileInfoResponse(fi), nil
}

func (s *Server) handleReadDir(env RequestEnv) (any, error) {
	var params models.PathParams
	if err := validation.ValidateAndUnmarshal(env.Params, &params); err != nil {
		return nil, err
	}

	h, err := s.client.OpenDir(params.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.client.CloseDir(h); err != nil {
			log.Debug().Err(err).Msg("failed to close directory")
		}
	}()

	resp := models.ReadDirResponse{
		Path:    params.Path,
		Entries: make([]models.FileInfoResponse, 0),
	}
	for {
		fi, err := s.client.ReadDir(h)
		if errors.Is(err, io.EOF) {
			return resp, nil
		} else if err != nil {
			return nil, err
		}
		resp.Entries = append(resp.Entries, fileInfoResponse(fi))
	}
}

func handleVersion(RequestEnv) (any, error) {
	return models.VersionResponse{
		Version:  config.AppVersion,
		Platform: runtime.GOOS,
	}, nil
}

// errorObject maps a handler error to the JSON-RPC error sent back.
func errorObject(err error) models.ErrorObject {
	var validationErr *validation.Error
	var st volume.Status
	switch {
	case errors.Is(err, errRateLimited):
		return JSONRPCErrorRateLimited
	case errors.Is(err, validation.ErrMissingParams),
		errors.Is(err, validation.ErrInvalidParams):
		return JSONRPCErrorInvalidParams
	case errors.As(err, &validationErr):
		return models.ErrorObject{
			Code:    JSONRPCErrorInvalidParams.Code,
			Message: validationErr.Error(),
		}
	case errors.As(err, &st),
		errors.Is(err, volume.ErrHandleInvalidated),
		errors.Is(err, volume.ErrForeignHandle):
		return models.ErrorObject{
			Code:    JSONRPCErrorVolume.Code,
			Message: volume.Describe(err),
		}
	default:
		return models.ErrorObject{
			Code:    JSONRPCErrorInternalError.Code,
			Message: err.Error(),
		}
	}
}

func marshalResponse(resp models.ResponseObject) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("error marshalling response: %w", err)
	}
	return data, nil
}

func sendResponse(session *melody.Session, id uuid.UUID, result any) error {
	data, err := marshalResponse(models.ResponseObject{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
	if err != nil {
		return err
	}
	return session.Write(data)
}

func sendError(session *melody.Session, id uuid.UUID, errObj models.ErrorObject) error {
	log.Debug().Int("code", errObj.Code).Str("message", errObj.Message).Msg("sending error")

	data, err := marshalResponse(models.ResponseObject{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &errObj,
	})
	if err != nil {
		return err
	}
	return session.Write(data)
}

func notificationMessage(notif models.Notification) ([]byte, error) {
	data, err := json.Marshal(models.RequestObject{
		JSONRPC: "2.0",
		Method:  notif.Method,
		Params:  notif.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling notification: %w", err)
	}
	return data, nil
}

func (s *Server) handleWSMessage(session *melody.Session, msg []byte) {
	// heartbeat
	if bytes.Equal(msg, []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	if !json.Valid(msg) {
		log.Warn().Msg("data not valid json")
		if err := sendError(session, uuid.Nil, JSONRPCErrorParseError); err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	var req models.RequestObject
	if err := json.Unmarshal(msg, &req); err != nil || req.JSONRPC != "2.0" || req.Method == "" {
		id := uuid.Nil
		if err == nil && req.ID != nil {
			id = *req.ID
		}
		log.Warn().Str("jsonrpc", req.JSONRPC).Msg("invalid request")
		if err := sendError(session, id, JSONRPCErrorInvalidRequest); err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	if req.ID == nil {
		log.Debug().Str("method", req.Method).Msg("received notification, ignoring")
		return
	}

	if _, ok := s.methods[strings.ToLower(req.Method)]; !ok {
		if err := sendError(session, *req.ID, JSONRPCErrorMethodNotFound); err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	resp, err := s.handleRequest(RequestEnv{
		ID:      *req.ID,
		IsLocal: middleware.IsLoopbackAddr(session.Request.RemoteAddr),
	}, req)
	if err != nil {
		log.Debug().Err(err).Str("method", req.Method).Msg("request failed")
		if err := sendError(session, *req.ID, errorObject(err)); err != nil {
			log.Error().Err(err).Msg("error sending error response")
		}
		return
	}

	if err := sendResponse(session, *req.ID, resp); err != nil {
		log.Error().Err(err).Msg("error sending response")
	}
}

// handleConnect sends the last volume notification so new clients start
// with the current card state.
func (s *Server) handleConnect(session *melody.Session) {
	if s.broker == nil {
		return
	}
	last, ok := s.broker.Last()
	if !ok {
		return
	}
	data, err := notificationMessage(last)
	if err != nil {
		log.Error().Err(err).Msg("marshalling last notification")
		return
	}
	if err := session.Write(data); err != nil {
		log.Debug().Err(err).Msg("failed to send last notification")
	}
}

// broadcastNotifications forwards broker notifications to every session
// until ctx is done or the broker shuts down.
func (s *Server) broadcastNotifications(ctx context.Context, notifs <-chan models.Notification, id int) {
	defer s.broker.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifs:
			if !ok {
				return
			}
			data, err := notificationMessage(notif)
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification")
				continue
			}
			if err := s.ws.Broadcast(data); err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(middleware.HTTPIPFilterMiddleware(middleware.NewIPFilter(s.cfg.AllowedIPs())))
	r.Use(middleware.HTTPRateLimitMiddleware(s.ipLimiter))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Accept"},
	}))

	allowedOrigins := s.cfg.AllowedOrigins()
	s.ws.Upgrader.CheckOrigin = func(r *http.Request) bool {
		return checkOrigin(r, allowedOrigins)
	}
	s.ws.HandleConnect(s.handleConnect)
	s.ws.HandleMessage(middleware.WebSocketRateLimitHandler(s.ipLimiter, s.handleWSMessage))

	r.Get(APIPath, func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.APIRequestTimeout))
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(notify.StatusPayload(s.vol)); err != nil {
				log.Debug().Err(err).Msg("failed to write health response")
			}
		})
	})

	return r
}

// checkOrigin allows clients without an Origin header (CLI, scripts),
// same host origins and the configured origins.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	if host == r.Host {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.APIListen()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves the API on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.ipLimiter.StartCleanup(ctx)
	if s.broker != nil {
		notifs, id := s.broker.Subscribe(subscriberBuffer)
		go s.broadcastNotifications(ctx, notifs, id)
	}

	go func() {
		<-ctx.Done()
		log.Debug().Msg("closing HTTP server via context cancellation")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("API server listening")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/ZaparooProject/volumed/pkg/api/models"
	"github.com/ZaparooProject/volumed/pkg/config"
	"github.com/olahol/melody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebSocketServer(t *testing.T, handler func(*melody.Session, []byte)) *httptest.Server {
	t.Helper()

	m := melody.New()
	m.HandleMessage(handler)
	mux := http.NewServeMux()
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		_ = m.HandleRequest(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = m.Close()
		server.Close()
	})
	return server
}

// respondWith answers every request with result.
func respondWith(result any) func(*melody.Session, []byte) {
	return func(session *melody.Session, msg []byte) {
		var request map[string]any
		if err := json.Unmarshal(msg, &request); err != nil {
			return
		}
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"result":  result,
			"id":      request["id"],
		})
		_ = session.Write(data)
	}
}

func testConfigWithPort(t *testing.T, port int) *config.Instance {
	t.Helper()
	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetAPIPort(port)
	return cfg
}

func serverConfig(t *testing.T, server *httptest.Server) *config.Instance {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return testConfigWithPort(t, port)
}

// unusedPort returns a port with nothing listening on it.
func unusedPort(t *testing.T) int {
	t.Helper()
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestLocalClient_ValidRequest(t *testing.T) {
	t.Parallel()

	var gotParams json.RawMessage
	server := newWebSocketServer(t, func(session *melody.Session, msg []byte) {
		var req models.RequestObject
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		gotParams = req.Params
		respondWith(map[string]any{"status": "OK"})(session, msg)
	})

	result, err := LocalClient(context.Background(), serverConfig(t, server),
		models.MethodVolumeStat, `{"path":"/"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"OK"}`, result)
	assert.JSONEq(t, `{"path":"/"}`, string(gotParams))
}

func TestLocalClient_EmptyParams(t *testing.T) {
	t.Parallel()

	var sawParams bool
	server := newWebSocketServer(t, func(session *melody.Session, msg []byte) {
		var request map[string]any
		if err := json.Unmarshal(msg, &request); err != nil {
			return
		}
		_, sawParams = request["params"]
		respondWith("done")(session, msg)
	})

	result, err := LocalClient(context.Background(), serverConfig(t, server), models.MethodVolumeStatus, "")
	require.NoError(t, err)
	assert.Equal(t, `"done"`, result)
	assert.False(t, sawParams)
}

func TestLocalClient_InvalidParams(t *testing.T) {
	t.Parallel()

	cfg := testConfigWithPort(t, unusedPort(t))
	_, err := LocalClient(context.Background(), cfg, models.MethodVolumeStat, "{not json")
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestLocalClient_ErrorResponse(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(session *melody.Session, msg []byte) {
		var request map[string]any
		if err := json.Unmarshal(msg, &request); err != nil {
			return
		}
		data, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32001, "message": "no SD card"},
			"id":      request["id"],
		})
		_ = session.Write(data)
	})

	_, err := LocalClient(context.Background(), serverConfig(t, server), models.MethodVolumeInfo, "")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32001, rpcErr.Code)
	assert.Equal(t, "no SD card", err.Error())
}

func TestLocalClient_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(*melody.Session, []byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := LocalClient(ctx, serverConfig(t, server), models.MethodVolumeFormat, "")
	require.ErrorIs(t, err, ErrRequestCancelled)
}

func TestLocalClient_IgnoresMismatchedIDs(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(session *melody.Session, msg []byte) {
		wrong, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"result":  "wrong",
			"id":      "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		})
		_ = session.Write(wrong)
		respondWith("right")(session, msg)
	})

	result, err := LocalClient(context.Background(), serverConfig(t, server), models.MethodVersion, "")
	require.NoError(t, err)
	assert.Equal(t, `"right"`, result)
}

func TestLocalClient_IgnoresInvalidJSONRPCVersion(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(session *melody.Session, msg []byte) {
		var request map[string]any
		if err := json.Unmarshal(msg, &request); err != nil {
			return
		}
		old, _ := json.Marshal(map[string]any{"jsonrpc": "1.0", "result": "old", "id": request["id"]})
		_ = session.Write(old)
		respondWith("new")(session, msg)
	})

	result, err := LocalClient(context.Background(), serverConfig(t, server), models.MethodVersion, "")
	require.NoError(t, err)
	assert.Equal(t, `"new"`, result)
}

func TestLocalClient_ConnectionFailure(t *testing.T) {
	t.Parallel()

	_, err := LocalClient(context.Background(), testConfigWithPort(t, unusedPort(t)), models.MethodVersion, "")
	require.Error(t, err)
}

// waitAndPoke starts WaitNotification and sends a message once connected
// so the test server knows when to push.
func waitAndPoke(
	t *testing.T,
	server *httptest.Server,
	timeout time.Duration,
	methods ...string,
) (method, params string, err error) {
	t.Helper()
	cfg := serverConfig(t, server)

	type result struct {
		err            error
		method, params string
	}
	done := make(chan result, 1)
	go func() {
		m, p, err := WaitNotification(context.Background(), timeout, cfg, methods...)
		done <- result{method: m, params: p, err: err}
	}()

	// a second connection triggers the broadcast to every session
	time.Sleep(50 * time.Millisecond)
	pokeCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _ = LocalClient(pokeCtx, cfg, models.MethodVersion, "")

	r := <-done
	return r.method, r.params, r.err
}

func broadcastOnMessage(m *melody.Melody, notifications ...models.RequestObject) func(*melody.Session, []byte) {
	return func(*melody.Session, []byte) {
		for _, n := range notifications {
			data, _ := json.Marshal(n)
			_ = m.Broadcast(data)
		}
	}
}

func newBroadcastServer(t *testing.T, notifications ...models.RequestObject) *httptest.Server {
	t.Helper()

	m := melody.New()
	m.HandleMessage(broadcastOnMessage(m, notifications...))
	mux := http.NewServeMux()
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		_ = m.HandleRequest(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = m.Close()
		server.Close()
	})
	return server
}

func TestWaitNotification_ReceivesNotification(t *testing.T) {
	t.Parallel()

	server := newBroadcastServer(t, models.RequestObject{
		JSONRPC: "2.0",
		Method:  models.NotificationVolumeMounted,
		Params:  json.RawMessage(`{"status":"OK"}`),
	})

	method, params, err := waitAndPoke(t, server, 2*time.Second, models.NotificationVolumeMounted)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationVolumeMounted, method)
	assert.JSONEq(t, `{"status":"OK"}`, params)
}

func TestWaitNotification_ReceivesAnyOfMultiple(t *testing.T) {
	t.Parallel()

	server := newBroadcastServer(t,
		models.RequestObject{JSONRPC: "2.0", Method: "volume.unrelated"},
		models.RequestObject{JSONRPC: "2.0", Method: models.NotificationVolumeMountFailed, Params: json.RawMessage(`{}`)},
	)

	method, _, err := waitAndPoke(t, server, 2*time.Second,
		models.NotificationVolumeMounted, models.NotificationVolumeMountFailed)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationVolumeMountFailed, method)
}

func TestWaitNotification_Timeout(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(*melody.Session, []byte) {})

	_, _, err := WaitNotification(context.Background(), 100*time.Millisecond,
		serverConfig(t, server), models.NotificationVolumeMounted)
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestWaitNotification_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, func(*melody.Session, []byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _, err := WaitNotification(ctx, -1, serverConfig(t, server), models.NotificationVolumeMounted)
	require.ErrorIs(t, err, ErrRequestCancelled)
}

func TestLocalAPIClient_Call(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, respondWith(map[string]any{"version": "1.0.0"}))
	c := NewLocalAPIClient(serverConfig(t, server))

	result, err := c.Call(context.Background(), models.MethodVersion, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0.0"}`, result)
}

func TestLocalAPIClient_CallError(t *testing.T) {
	t.Parallel()

	c := NewLocalAPIClient(testConfigWithPort(t, unusedPort(t)))
	_, err := c.Call(context.Background(), models.MethodVersion, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api call failed")
}

func TestIsServiceRunning(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, respondWith(map[string]any{"version": "1.0.0"}))
	assert.True(t, IsServiceRunning(serverConfig(t, server)))
	assert.False(t, IsServiceRunning(testConfigWithPort(t, unusedPort(t))))
}

func TestWaitForAPI(t *testing.T) {
	t.Parallel()

	server := newWebSocketServer(t, respondWith(map[string]any{"version": "1.0.0"}))
	assert.True(t, WaitForAPI(serverConfig(t, server), 5*time.Second, 100*time.Millisecond))

	start := time.Now()
	assert.False(t, WaitForAPI(testConfigWithPort(t, unusedPort(t)), 200*time.Millisecond, 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRPCError(t *testing.T) {
	t.Parallel()

	var err error = &RPCError{Code: -32000, Message: "Rate limit exceeded"}
	wrapped := errors.Join(errors.New("api call failed"), err)
	var rpcErr *RPCError
	require.ErrorAs(t, wrapped, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)
}

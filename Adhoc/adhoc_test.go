package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regServer(t *testing.T, handler http.HandlerFunc) RegServerConfig {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	host, port, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	reg := RegServerConfig{}
	reg.SetAddress(host, p)
	return reg
}

func TestHeartbeatSend(t *testing.T) {
	var got RegisterRequest
	reg := regServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: got.Id, Success: true})
	})

	hb := NewHeartbeat(reg, Node{IP: "10.0.0.2", Port: 50051, HTTPPort: 8080, InstanceClass: CudaInstance, Labels: []string{"cheating", "not_cheating", "uncertain"}})
	require.NoError(t, hb.Send(context.Background()))

	assert.Equal(t, hb.ID(), got.Id)
	assert.Equal(t, "10.0.0.2", got.IP)
	assert.Equal(t, 50051, got.Port)
	assert.Equal(t, CudaInstance, got.InstanceClass)
	assert.Equal(t, ServiceName, got.Service)
	assert.Len(t, got.Labels, 3)
	assert.NotZero(t, got.TimeStamp)
}

func TestHeartbeatErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		reg := regServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		})
		assert.Error(t, NewHeartbeat(reg, Node{}).Send(context.Background()))
	})

	t.Run("rejected", func(t *testing.T) {
		reg := regServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":false}`))
		})
		assert.Error(t, NewHeartbeat(reg, Node{}).Send(context.Background()))
	})
}

func TestSendAliveMessage(t *testing.T) {
	var hits atomic.Int32
	RegServerCfg = regServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go SendAliveMessage(Node{IP: "127.0.0.1", Port: 1}, ctx, &wg)

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestInstanceClassOf(t *testing.T) {
	class, ok := InstanceClassOf("Cuda")
	assert.True(t, ok)
	assert.Equal(t, CudaInstance, class)

	class, ok = InstanceClassOf("Tpu")
	assert.False(t, ok)
	assert.Equal(t, CpuInstance, class)
}

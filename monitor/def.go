package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"CheatDetServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      process.Process
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "Frames run through the pipeline",
	})
	CheatingFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cheating_frames_total",
		Help: "Frames with at least one person classified as cheating",
	})
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "person_decisions_total",
		Help: "Per-person decisions by outcome",
	}, []string{"decision"})
	SkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persons_skipped_total",
		Help: "Persons left out of a frame decision, by reason",
	}, []string{"reason"})
)

var srv *http.Server

// Registry returns a registry holding every collector of this package.
func Registry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage, GRPCTotal, FramesTotal, CheatingFramesTotal, DecisionsTotal, SkippedTotal)
	return registry
}

func prom(port int) {
	registry := Registry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
}

func CheckProcessInfo() {
	if MemInfo, err := PID.MemoryInfo(); err == nil {
		memUsage.Set(float64(MemInfo.RSS / 1024 / 1024))
	}
	if CPUPercent, err := PID.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(CPUPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon serves /metrics on port and samples process stats until ctx is done.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}

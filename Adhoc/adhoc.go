package Adhoc

import (
	"CheatDetServer/logger"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	RocmInstance   = 0x2004
	TimeOutSeconds = 5

	ServiceName = "cheatdet"
)

type RegisterRequest struct {
	Id            string   `json:"id"`
	IP            string   `json:"ip"`
	Port          int      `json:"port"`
	HTTPPort      int      `json:"httpPort"`
	InstanceClass int      `json:"instanceClass"`
	Service       string   `json:"service"`
	Labels        []string `json:"labels"`
	TimeStamp     int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

var RegServerCfg RegServerConfig

// InstanceClassOf maps the config name to its instance class, falling back to Cpu.
func InstanceClassOf(name string) (int, bool) {
	switch name {
	case "Dml":
		return DmlInstance, true
	case "Cuda":
		return CudaInstance, true
	case "Rocm":
		return RocmInstance, true
	case "Cpu":
		return CpuInstance, true
	default:
		return CpuInstance, false
	}
}

// Node is what this process announces to the registry server.
type Node struct {
	IP            string
	Port          int
	HTTPPort      int
	InstanceClass int
	Labels        []string
}

type Heartbeat struct {
	id       string
	node     Node
	url      string
	interval time.Duration
	client   *resty.Client
}

func NewHeartbeat(reg RegServerConfig, node Node) *Heartbeat {
	return &Heartbeat{
		id:       uuid.NewString(),
		node:     node,
		url:      reg.URL(),
		interval: TimeOutSeconds * time.Second,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string {
	return h.id
}

// Send posts one registration. Failures are returned, never panicked.
func (h *Heartbeat) Send(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic recovered: %v", r)
		}
	}()
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:            h.id,
		IP:            h.node.IP,
		Port:          h.node.Port,
		HTTPPort:      h.node.HTTPPort,
		InstanceClass: h.node.InstanceClass,
		Service:       ServiceName,
		Labels:        h.node.Labels,
		TimeStamp:     time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", h.id)
	}
	return nil
}

// Run sends a heartbeat now and every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	send := func() {
		if err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("id", h.id), zap.Error(err))
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			send()
		}
	}
}

func SendAliveMessage(node Node, ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	NewHeartbeat(RegServerCfg, node).Run(ctx)
}

package web

import (
	"CheatDetServer/annotate"
	"CheatDetServer/pipeline"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const maxFrameBytes = 20 * 1024 * 1024

type instance struct {
	id          string
	lastActive  atomic.Int64
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idleFor() time.Duration {
	return time.Since(time.Unix(0, inst.lastActive.Load()))
}

type Server struct {
	pipeline    *pipeline.Pipeline
	idleTimeout time.Duration
	logger      *zap.Logger
	sessionMu   sync.RWMutex
	sessions    map[string]*instance
	upgrader    websocket.Upgrader
}

func NewServer(p *pipeline.Pipeline, idleTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline:    p,
		idleTimeout: idleTimeout,
		logger:      logger.Named("web"),
		sessions:    map[string]*instance{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run serves the API on port until ctx is done.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.closeSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Router() *gin.Engine {
	eng := gin.New()
	eng.Use(gin.Recovery())

	api := eng.Group("/api")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	api.GET("/config", s.config)
	api.GET("/sessions", s.listSessions)
	api.POST("/detect", s.detect)
	eng.GET("/ws", s.serveWS)
	return eng
}

func (s *Server) config(c *gin.Context) {
	cfg := s.pipeline.Classifier().CheckConfig()
	rule := s.pipeline.Rule()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"modelPath":           cfg.ModelPath,
		"labels":              cfg.Labels,
		"useGPU":              cfg.UseGPU,
		"dominanceFactor":     rule.DominanceFactor,
		"separateNotCheating": rule.SeparateNotCheating,
		"idleTimeoutMs":       s.idleTimeout.Milliseconds(),
	}})
}

func (s *Server) listSessions(c *gin.Context) {
	s.sessionMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"data": ids})
}

func (s *Server) detect(c *gin.Context) {
	data, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mat, err := annotate.DecodeImage(data)
	defer mat.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
		return
	}
	out, err := s.run(&mat)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// readImage takes a multipart "file" field or, failing that, the raw body.
func readImage(c *gin.Context) ([]byte, error) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxFrameBytes))
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("image data cannot be empty")
	}
	return data, nil
}

func (s *Server) run(mat *gocv.Mat) (map[string]any, error) {
	res := s.pipeline.Process(mat)
	encoded, err := annotate.EncodeJPEG(*mat)
	if err != nil {
		return nil, err
	}
	out := res.Summary()
	out["image"] = base64.StdEncoding.EncodeToString(encoded)
	return out, nil
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	inst := &instance{
		id:          uuid.New().String(),
		conn:        conn,
		cancelTimer: make(chan struct{}),
	}
	inst.touch()
	s.sessionMu.Lock()
	s.sessions[inst.id] = inst
	s.sessionMu.Unlock()
	s.logger.Info("session opened", zap.String("session", inst.id))

	s.startIdleMonitor(inst)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			s.releaseInstance(inst.id, "connection closed")
			s.logger.Debug("connection closed", zap.String("session", inst.id), zap.Error(err))
			return
		}
		inst.touch()
		if mt != websocket.TextMessage {
			_ = conn.WriteJSON(gin.H{"sessionID": inst.id, "error": "unsupported message type"})
			continue
		}
		mat, err := Base64ToMat(string(msg))
		if err != nil {
			mat.Close()
			_ = conn.WriteJSON(gin.H{"sessionID": inst.id, "error": fmt.Sprintf("invalid image: %v", err)})
			continue
		}
		out, err := s.run(&mat)
		mat.Close()
		if err != nil {
			_ = conn.WriteJSON(gin.H{"sessionID": inst.id, "error": err.Error()})
			continue
		}
		out["sessionID"] = inst.id
		if err := conn.WriteJSON(out); err != nil {
			s.releaseInstance(inst.id, "write failed")
			return
		}
	}
}

func (s *Server) releaseInstance(sessionID, reason string) bool {
	s.sessionMu.Lock()
	inst, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.sessionMu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		_ = inst.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		_ = inst.conn.Close()
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	return true
}

func (s *Server) startIdleMonitor(inst *instance) {
	if s.idleTimeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > s.idleTimeout {
					if s.releaseInstance(inst.id, fmt.Sprintf("%d ms not active, released", s.idleTimeout.Milliseconds())) {
						s.logger.Info("session idle, released", zap.String("session", inst.id))
					}
					return
				}
			}
		}
	}()
}

func (s *Server) closeSessions() {
	s.sessionMu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.sessionMu.RUnlock()
	for _, id := range ids {
		s.releaseInstance(id, "server shutting down")
	}
}

// Base64ToMat decodes a base64 image, with or without a data:image/... prefix.
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return gocv.NewMat(), err
	}
	return annotate.DecodeImage(data)
}

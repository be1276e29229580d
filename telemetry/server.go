// Package telemetry exports the plant state over HTTP for dashboards.
// It is read-only: the only way to change the plant from the network is
// the Modbus endpoint.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/deciphr/ModuSim/modbus"
	"github.com/deciphr/ModuSim/plant"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeWait = 5 * time.Second

// Frame is one message on the state stream.
type Frame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	State     plant.Snapshot `json:"state"`
	Modbus    modbus.Stats   `json:"modbus"`
}

// RegisterInfo documents one entry of the Modbus address map.
type RegisterInfo struct {
	Type        string `json:"type"`
	Address     uint16 `json:"address"`
	Name        string `json:"name"`
	Access      string `json:"access"`
	Description string `json:"description"`
}

type Server struct {
	plant     *plant.Plant
	registers *modbus.RegisterMap
	frame     time.Duration

	echo     *echo.Echo
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]string // id -> remote address

	// done is closed by Shutdown; hijacked stream handlers are not tracked
	// by the HTTP server and select on it instead.
	done     chan struct{}
	shutdown sync.Once
}

// NewServer serves p and the request counters of registers. Subscribers of
// the stream receive one frame per frame interval.
func NewServer(p *plant.Plant, registers *modbus.RegisterMap, frame time.Duration) *Server {
	if frame <= 0 {
		frame = 100 * time.Millisecond
	}
	s := &Server{
		plant:     p,
		registers: registers,
		frame:     frame,
		echo:      echo.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]string),
		done:        make(chan struct{}),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.GET("/health", s.handleHealth)
	api := s.echo.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/registers", s.handleRegisters)
	s.echo.GET("/ws", s.handleStream)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	slog.Info("telemetry listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every stream with a going-away frame and stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() { close(s.done) })
	return s.echo.Shutdown(ctx)
}

// Subscribers returns the number of connected stream clients.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"tick":        s.plant.Snapshot().Tick,
		"subscribers": s.Subscribers(),
	})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.frameFor(""))
}

func (s *Server) handleRegisters(c echo.Context) error {
	infos := make([]RegisterInfo, 0, len(modbus.Layout))
	for _, r := range modbus.Layout {
		infos = append(infos, RegisterInfo{
			Type:        r.Kind.String(),
			Address:     r.Addr,
			Name:        r.Name,
			Access:      r.Access.String(),
			Description: r.Description,
		})
	}
	return c.JSON(http.StatusOK, infos)
}

func (s *Server) frameFor(id string) Frame {
	f := Frame{
		Type:      "state",
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		State:     s.plant.Snapshot(),
	}
	if s.registers != nil {
		f.Modbus = s.registers.Stats()
	}
	return f
}

func (s *Server) handleStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	id := uuid.NewString()
	s.mu.Lock()
	s.subscribers[id] = c.RealIP()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()
	slog.Info("telemetry subscriber connected", "id", id, "remote", c.RealIP())

	// the stream is one-way; reading only detects the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()
	for {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(s.frameFor(id)); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("telemetry write failed", "id", id, "err", err)
			}
			return nil
		}
		select {
		case <-closed:
			slog.Info("telemetry subscriber disconnected", "id", id)
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			slog.Info("telemetry subscriber closed on shutdown", "id", id)
			return nil
		case <-ticker.C:
		}
	}
}

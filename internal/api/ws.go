package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/logger"
	"analytics-enginev1/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// watchRequest is the first (and only) client message on /ws/scan.
type watchRequest struct {
	engine.ScanRequest
	IntervalSec float64 `json:"interval_sec"`
}

// frame is every server message on /ws/scan.
type frame struct {
	Type    string               `json:"type"` // scan or error
	Seq     int                  `json:"seq,omitempty"`
	Result  *engine.ScanResponse `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
	Message string               `json:"message,omitempty"`
}

// handleWatch upgrades to WebSocket, reads one scan request and re-runs the
// scan every interval until the client disconnects. Caller errors are sent
// as an error frame and close the connection; run failures are reported
// and the watch continues.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WSClients.Inc()
		defer s.metrics.WSClients.Dec()
	}

	ctx, cancel := context.WithCancel(logger.WithTraceID(context.Background(), logger.NewTraceID()))
	defer cancel()

	conn.SetReadLimit(64 << 10)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	var req watchRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.closeWith(conn, fmt.Errorf("%w: watch request: %v", model.ErrInvalidParameter, err))
		return
	}
	req.ScanRequest, err = normalizeScan(req.ScanRequest)
	if err == nil {
		_, err = req.Compile()
	}
	if err != nil {
		s.closeWith(conn, err)
		return
	}
	interval := s.watchInterval(req.IntervalSec)
	s.log.Info("ws scan watch started", append(logger.LogWithTrace(ctx),
		"universe", req.Universe, "interval", interval.String())...)

	// The reader only detects disconnects and keeps the read deadline fresh.
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	scanTick := time.NewTicker(interval)
	defer scanTick.Stop()
	pingTick := time.NewTicker(pingInterval)
	defer pingTick.Stop()

	for seq := 1; ; {
		resp, err := s.analyzer.Scan(ctx, req.ScanRequest)
		if ctx.Err() != nil {
			return
		}
		out := frame{Type: "scan", Seq: seq, Result: resp}
		if err != nil {
			out = frame{Type: "error", Seq: seq, Error: model.ErrorKind(err), Message: err.Error()}
		} else if s.onScan != nil {
			s.onScan(time.Now())
		}
		if !s.send(conn, out) {
			return
		}
		if err != nil && model.IsCallerError(err) {
			s.closeWith(conn, nil)
			return
		}
		seq++

	wait:
		for {
			select {
			case <-ctx.Done():
				s.log.Info("ws scan watch ended", logger.LogWithTrace(ctx)...)
				return
			case <-pingTick.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-scanTick.C:
				break wait
			}
		}
	}
}

func (s *Server) watchInterval(sec float64) time.Duration {
	if sec <= 0 {
		return s.defaultWatch
	}
	d := time.Duration(sec * float64(time.Second))
	if d < s.minWatch {
		return s.minWatch
	}
	if d > s.maxWatch {
		return s.maxWatch
	}
	return d
}

func (s *Server) send(conn *websocket.Conn, f frame) bool {
	b, err := json.Marshal(f)
	if err != nil {
		s.log.Error("ws frame marshal failed", "error", err)
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b) == nil
}

// closeWith sends err (if any) as an error frame, then a close frame.
func (s *Server) closeWith(conn *websocket.Conn, err error) {
	reason := ""
	if err != nil {
		s.send(conn, frame{Type: "error", Error: model.ErrorKind(err), Message: err.Error()})
		reason = model.ErrorKind(err)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
}

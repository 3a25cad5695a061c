// Package web serves cover states over HTTP: a JSON index and a websocket
// stream of updates.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jkaflik/garage2mqtt/internal/status"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	tracker  *status.Tracker
	upgrader websocket.Upgrader
	server   *http.Server
}

func NewServer(addr string, tracker *status.Tracker) *Server {
	s := &Server{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebsocket)

	return mux
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logrus.Infof("http: listening on %s", s.server.Addr)
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "http: serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http: shutdown")
	}
	logrus.Info("http: stopped")

	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.tracker.All()); err != nil {
		logrus.Errorf("http: index encode failed: %s", err)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("http: websocket upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	logrus.Debugf("http: websocket session started (%s)", conn.RemoteAddr())
	defer logrus.Debugf("http: websocket session ended (%s)", conn.RemoteAddr())

	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	// the stream is one way, reading only detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.Warnf("http: websocket read error: %s", err)
				}
				return
			}
		}
	}()

	for _, snapshot := range s.tracker.All() {
		if err := writeJSON(conn, snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(conn, snapshot); err != nil {
				logrus.Warnf("http: websocket write failed: %s", err)
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return conn.WriteJSON(v)
}

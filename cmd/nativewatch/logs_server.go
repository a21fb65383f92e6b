package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nativewatch/internal/logging"
)

const logsWriteTimeout = 5 * time.Second

// logsServer streams log entries over a websocket as JSON objects: first the
// buffered history, then live entries. Query parameter level sets the
// minimum level (default debug).
type logsServer struct {
	app *application
}

func (server *logsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := server.app.logger
	minLevel := logging.LevelDebug
	if raw := r.URL.Query().Get("level"); raw != "" {
		level, ok := logging.ParseLevel(raw)
		if !ok {
			http.Error(w, "unknown level "+raw, http.StatusBadRequest)
			return
		}
		minLevel = level
	}

	// Subscribe before taking the snapshot so nothing falls in between.
	live, cancel := logger.Subscribe(minLevel)
	defer cancel()
	history := logger.Buffer().List()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", map[string]string{"error": err.Error()})
		return
	}
	defer conn.Close()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(entry logging.LogEntry) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(logsWriteTimeout))
		return conn.WriteJSON(entry) == nil
	}
	for _, entry := range history {
		if logging.LevelAtLeast(entry.Level, minLevel) && !write(entry) {
			return
		}
	}
	for {
		select {
		case entry, ok := <-live:
			if !ok || !write(entry) {
				return
			}
		case <-peerGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

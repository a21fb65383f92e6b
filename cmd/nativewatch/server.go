package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nativewatch/internal/bridge"
	"nativewatch/internal/version"
	"nativewatch/internal/watch"
)

const (
	httpServerShutdownTimeout = 5 * time.Second
	wsReadBufferSize          = 1024
	wsWriteBufferSize         = 1024
)

func (app *application) serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.settings.Server.Listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(app.settings.Server.WatchPath, &watchServer{app: app})
	mux.Handle(app.settings.Server.MetricsPath, app.metrics.Handler())
	mux.Handle(app.settings.Server.LogsPath, &logsServer{app: app})
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	app.logger.Info("nativewatch listening", map[string]string{
		"addr":    listener.Addr().String(),
		"version": version.Version,
	})

	runner := &ServerRunner{Logger: app.logger, ShutdownTimeout: httpServerShutdownTimeout}
	serverErr := runner.Run(ctx, ManagedServer{
		Name: "watch",
		Serve: func() error {
			return server.Serve(listener)
		},
		Shutdown: server.Shutdown,
	})
	if serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
		return serverErr
	}
	return nil
}

// watchServer bridges one stream per websocket session. The peer is the
// caller runtime: it answers resolve requests for the handle method and
// receives an invoke per event.
//
// Query parameters: path (required), encoding (json|binary), notify=1 to
// also resolve the batch notification method.
type watchServer struct {
	app *application
}

func (server *watchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app := server.app
	query := r.URL.Query()

	root, err := watch.ResolvePath(query.Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	encodingName := query.Get("encoding")
	if encodingName == "" {
		encodingName = app.settings.Bridge.Encoding
	}
	encoding, err := bridge.ParseEncoding(encodingName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Warn("websocket upgrade failed", map[string]string{"error": err.Error()})
		return
	}

	runtime := bridge.NewWSRuntime(conn, bridge.WSOptions{
		Encoding:    encoding,
		CallTimeout: app.settings.Bridge.CallTimeout,
		Logger:      app.logger,
	})
	defer runtime.Close()
	logger := app.logger.With(map[string]string{"session": runtime.Session(), "root": root})

	handler, err := bridge.New(runtime, root, bridge.Options{
		Logger:        app.logger,
		Metrics:       app.metrics,
		WithNewEvents: query.Get("notify") == "1",
	})
	if err != nil {
		logger.Warn("bridge setup failed", map[string]string{"error": err.Error()})
		return
	}

	fatal := make(chan error, 1)
	report := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	var target watch.Handler = handler
	if app.settings.Bridge.Mode == "dispatch" {
		dispatcher := bridge.NewDispatcher(handler, bridge.DispatcherOptions{
			Logger:  app.logger,
			OnError: report,
		})
		defer dispatcher.Close()
		target = dispatcher
	}

	options := app.streamOptions()
	options.OnFatal = report
	stream, err := watch.New(root, target, options)
	if err != nil {
		logger.Warn("stream setup failed", map[string]string{"error": err.Error()})
		return
	}
	defer stream.Stop()
	if err := stream.Start(); err != nil {
		logger.Warn("stream start failed", map[string]string{"error": err.Error()})
		return
	}
	logger.Info("watch session started", map[string]string{"encoding": encoding.String()})

	select {
	case <-runtime.Done():
		if err := runtime.Err(); err != nil {
			logger.Debug("peer disconnected", map[string]string{"error": err.Error()})
		}
	case err := <-fatal:
		logger.Warn("watch session aborted", map[string]string{"error": err.Error()})
	case <-r.Context().Done():
	}
}

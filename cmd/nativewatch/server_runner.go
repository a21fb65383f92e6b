package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nativewatch/internal/logging"
)

type ManagedServer struct {
	Name     string
	Serve    func() error
	Shutdown func(context.Context) error
}

// ServerRunner serves until stop ends or a server fails, then shuts every
// server down within ShutdownTimeout.
type ServerRunner struct {
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

type serverError struct {
	name string
	err  error
}

func (e *serverError) Error() string {
	return e.name + " server: " + e.err.Error()
}

func (e *serverError) Unwrap() error {
	return e.err
}

func (runner *ServerRunner) Run(stop context.Context, servers ...ManagedServer) *serverError {
	started := 0
	results := make(chan serverError, len(servers))
	for _, server := range servers {
		if server.Serve == nil {
			continue
		}
		started++
		server := server
		go func() {
			results <- serverError{name: server.Name, err: server.Serve()}
		}()
	}
	if started == 0 {
		return nil
	}

	var first *serverError
	select {
	case result := <-results:
		first = &result
		started--
	case <-stop.Done():
	}
	runner.logServerError(first)

	timeout := runner.ShutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, server := range servers {
		if server.Shutdown == nil {
			continue
		}
		if err := server.Shutdown(shutdownContext); err != nil {
			runner.Logger.Warn("server shutdown failed", map[string]string{
				"server": server.Name,
				"error":  err.Error(),
			})
		}
	}

	for ; started > 0; started-- {
		select {
		case result := <-results:
			runner.logServerError(&result)
		case <-time.After(timeout):
			return first
		}
	}
	return first
}

func (runner *ServerRunner) logServerError(result *serverError) {
	if result == nil || result.err == nil || errors.Is(result.err, http.ErrServerClosed) {
		return
	}
	runner.Logger.Error("http server stopped", map[string]string{
		"server": result.name,
		"error":  result.err.Error(),
	})
}

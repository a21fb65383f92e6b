package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"nativewatch/internal/config"
	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
	"nativewatch/internal/metrics"
	"nativewatch/internal/watch"
	"nativewatch/internal/watcher"
)

type application struct {
	settings config.Settings
	facility fsapi.Facility
	logger   *logging.Logger
	metrics  *metrics.Registry
	out      io.Writer
}

type lockedWriter struct {
	mutex  sync.Mutex
	writer io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.writer.Write(p)
}

func (app *application) streamOptions() watch.Options {
	return watch.Options{
		Facility: app.facility,
		Latency:  app.settings.Stream.Latency,
		Flags:    app.settings.Stream.CreateFlags(),
		Logger:   app.logger,
		Metrics:  app.metrics,
	}
}

func (app *application) watchOptions() watcher.WatchOptions {
	options := watcher.WatchOptions{Kinds: app.settings.Watcher.KindFilter()}
	if app.settings.Watcher.Scope == "children" {
		options.Scope = watcher.ScopeChildren
	}
	if app.settings.Watcher.Approximation == "all" {
		options.Approximation = watcher.ApproximationAll
	}
	return options
}

// watch prints one line per classified event until ctx ends.
func (app *application) watch(ctx context.Context, paths []string) error {
	service, err := watcher.NewWithOptions(watcher.Options{
		Logger:     app.logger,
		Metrics:    app.metrics,
		Facility:   app.facility,
		Latency:    app.settings.Stream.Latency,
		Flags:      app.settings.Stream.CreateFlags(),
		MaxWatches: app.settings.Watcher.MaxWatches,
		ErrorHandler: func(err error) {
			app.logger.Error("watch gave up restarting", map[string]string{"error": err.Error()})
		},
	})
	if err != nil {
		return err
	}
	defer service.Close()

	options := app.watchOptions()
	for _, path := range paths {
		handle, err := service.Watch(path, func(event watcher.Event) {
			fmt.Fprintf(app.out, "%s\t%s\n", event.Kind, event.Path)
		}, options)
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		defer handle.Close()
	}

	<-ctx.Done()
	return nil
}

// poll prints raw native events. Each stream signals after a batch and the
// loop drains every stream on the signal.
func (app *application) poll(ctx context.Context, paths []string) error {
	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	streams := make([]*watch.Stream, 0, len(paths))
	defer func() {
		for _, stream := range streams {
			stream.Stop()
		}
	}()
	for _, path := range paths {
		stream, err := watch.NewPolling(path, notify, app.streamOptions())
		if err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		streams = append(streams, stream)
		if err := stream.Start(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			app.drain(streams)
			return nil
		case <-wake:
			app.drain(streams)
		}
	}
}

func (app *application) drain(streams []*watch.Stream) {
	for _, stream := range streams {
		for _, event := range stream.PollAll() {
			fmt.Fprintf(app.out, "%d\t%s\t%s\n", uint64(event.ID), event.Flags, event.Path)
		}
	}
}

//go:build darwin && cgo

package native

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsevents"

	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
)

// FSEventsFacility subscribes through the CoreServices FSEvents API.
type FSEventsFacility struct {
	logger *logging.Logger
}

func NewFSEventsFacility(logger *logging.Logger) *FSEventsFacility {
	return &FSEventsFacility{logger: logger.Category("native")}
}

func (facility *FSEventsFacility) CurrentEventID() fsapi.EventID {
	return fsapi.EventID(fsevents.LatestEventID())
}

func (facility *FSEventsFacility) NewQueue(label string) fsapi.Queue {
	return NewSerialQueue(label, facility.logger)
}

func (facility *FSEventsFacility) CreateStream(ctx fsapi.Context, paths []string, since fsapi.EventID, latency time.Duration, flags fsapi.CreateFlags) (fsapi.Stream, error) {
	if len(paths) == 0 {
		return nil, errors.New("native stream needs at least one path")
	}
	return &fseventsStream{
		streamCore: newStreamCore(ctx),
		source: &fsevents.EventStream{
			Events:  make(chan []fsevents.Event, 1),
			Paths:   append([]string(nil), paths...),
			Latency: latency,
			Flags:   fsevents.CreateFlags(flags),
			EventID: uint64(since),
			Resume:  true,
		},
		quit:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}, nil
}

type fseventsStream struct {
	streamCore

	source   *fsevents.EventStream
	quit     chan struct{}
	pumpDone chan struct{}
	stopOnce sync.Once
}

func (stream *fseventsStream) Start() error {
	first, err := stream.beginStart()
	if err != nil || !first {
		return err
	}
	if err := stream.source.Start(); err != nil {
		stream.markStopped()
		return err
	}
	go stream.pump()
	return nil
}

// Stop tears the FSEvents stream down before the pump exits so that a
// callback blocked on the events channel is always drained.
func (stream *fseventsStream) Stop() {
	if !stream.markStopped() {
		return
	}
	stream.stopOnce.Do(func() {
		stream.source.Stop()
		close(stream.quit)
		<-stream.pumpDone
	})
}

func (stream *fseventsStream) pump() {
	defer close(stream.pumpDone)
	for {
		select {
		case <-stream.quit:
			return
		case events := <-stream.source.Events:
			batch := make([]fsapi.NativeEvent, 0, len(events))
			for _, event := range events {
				batch = append(batch, fsapi.NativeEvent{
					ID:    fsapi.EventID(event.ID),
					Flags: fsapi.EventFlags(event.Flags),
					Path:  []byte(absolutePath(event.Path)),
				})
			}
			stream.deliver(stream, batch)
		}
	}
}

// FSEvents reports paths relative to the device root without the leading
// separator.
func absolutePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

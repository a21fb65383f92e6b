//go:build darwin && cgo

package native

import (
	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
)

// Default returns the facility preferred on this platform.
func Default(logger *logging.Logger) fsapi.Facility {
	return NewFSEventsFacility(logger)
}

// Platform is Default for callers that also configure the portable
// facility; FSEvents has no per-stream watch limit, so options only
// contribute the logger.
func Platform(options PortableOptions) fsapi.Facility {
	return NewFSEventsFacility(options.Logger)
}

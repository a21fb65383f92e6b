//go:build !darwin || !cgo

package native

import (
	"nativewatch/internal/fsapi"
	"nativewatch/internal/logging"
)

// Default returns the facility preferred on this platform.
func Default(logger *logging.Logger) fsapi.Facility {
	return NewPortableFacility(PortableOptions{Logger: logger})
}

func Platform(options PortableOptions) fsapi.Facility {
	return NewPortableFacility(options)
}

//go:build !pulse

package audio

import (
	"fmt"

	"github.com/audiolibrelab/soundlines/internal/config"
)

const pulseAvailable = false

// NewPulseDriver is unavailable without the pulse build tag.
func NewPulseDriver(cfg *config.Config) (Driver, error) {
	return nil, fmt.Errorf("%w: pulse driver not compiled in (rebuild with -tags pulse)", ErrDeviceUnavailable)
}

//go:build !oto

package audio

import (
	"fmt"

	"github.com/audiolibrelab/soundlines/internal/config"
)

const otoAvailable = false

// NewOtoDriver is unavailable without the oto build tag.
func NewOtoDriver(cfg *config.Config) (Driver, error) {
	return nil, fmt.Errorf("%w: oto driver not compiled in (rebuild with -tags oto)", ErrDeviceUnavailable)
}

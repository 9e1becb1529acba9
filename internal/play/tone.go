package play

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/audiolibrelab/soundlines/internal/audio"
)

// Tone renders a sine wave of freq Hz lasting d in format f, at amplitude
// between 0 and 1. Only 8-bit unsigned and 16-bit signed PCM are produced.
func Tone(f audio.Format, freq float64, d time.Duration, amplitude float64) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if freq <= 0 || amplitude < 0 || amplitude > 1 {
		return nil, fmt.Errorf("%w: tone of %.1f Hz at amplitude %.2f", audio.ErrIllegalArgument, freq, amplitude)
	}
	frames := int(d.Seconds() * f.FrameRate)
	if frames <= 0 {
		return nil, fmt.Errorf("%w: tone duration %s is shorter than a frame", audio.ErrIllegalArgument, d)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if f.BigEndian {
		order = binary.BigEndian
	}

	out := make([]byte, frames*f.FrameSize)
	for i := 0; i < frames; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/f.SampleRate)
		frame := out[i*f.FrameSize : (i+1)*f.FrameSize]
		for ch := 0; ch < f.Channels; ch++ {
			switch {
			case f.Encoding == audio.EncodingPCMUnsigned && f.SampleSizeInBits == 8:
				frame[ch] = byte(128 + int(math.Round(v*127)))
			case f.Encoding == audio.EncodingPCMSigned && f.SampleSizeInBits == 16:
				order.PutUint16(frame[ch*2:], uint16(int16(math.Round(v*math.MaxInt16))))
			default:
				return nil, fmt.Errorf("%w: tones are rendered as 8-bit unsigned or 16-bit signed PCM, not %s", audio.ErrInvalidFormat, f)
			}
		}
	}
	return out, nil
}

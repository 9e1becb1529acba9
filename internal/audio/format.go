package audio

import (
	"fmt"
	"math"
)

// NotSpecified marks a format field as a wildcard when matching.
const NotSpecified = -1

// MaxChannels is the largest channel map the sound server accepts.
const MaxChannels = 32

// MaxSampleRate is the highest sample rate the sound server accepts.
const MaxSampleRate = 384000

// Encoding names the sample encoding of a stream.
type Encoding string

const (
	EncodingPCMSigned   Encoding = "PCM_SIGNED"
	EncodingPCMUnsigned Encoding = "PCM_UNSIGNED"
	EncodingPCMFloat    Encoding = "PCM_FLOAT"
	EncodingULaw        Encoding = "ULAW"
	EncodingALaw        Encoding = "ALAW"
)

// Format describes the layout of audio data on a line
type Format struct {
	Encoding         Encoding `json:"encoding" yaml:"encoding"`
	SampleRate       float64  `json:"sample_rate" yaml:"sample_rate"`
	SampleSizeInBits int      `json:"sample_size_bits" yaml:"sample_size_bits"`
	Channels         int      `json:"channels" yaml:"channels"`
	FrameSize        int      `json:"frame_size" yaml:"frame_size"`
	FrameRate        float64  `json:"frame_rate" yaml:"frame_rate"`
	BigEndian        bool     `json:"big_endian" yaml:"big_endian"`
}

// NewPCM builds a linear PCM format with a frame size derived from the
// sample size and channel count.
func NewPCM(sampleRate float64, bits, channels int, signed, bigEndian bool) Format {
	enc := EncodingPCMSigned
	if !signed {
		enc = EncodingPCMUnsigned
	}
	return Format{
		Encoding:         enc,
		SampleRate:       sampleRate,
		SampleSizeInBits: bits,
		Channels:         channels,
		FrameSize:        frameSizeFor(bits, channels),
		FrameRate:        sampleRate,
		BigEndian:        bigEndian,
	}
}

// DefaultFormat is used by lines acquired without an explicit format.
func DefaultFormat() Format {
	return NewPCM(44100, 16, 2, true, false)
}

func frameSizeFor(bits, channels int) int {
	if bits <= 0 || channels <= 0 {
		return NotSpecified
	}
	return ((bits + 7) / 8) * channels
}

// sampleLayouts lists the encodings the sound server can carry and the
// sample sizes valid for each.
var sampleLayouts = map[Encoding][]int{
	EncodingPCMUnsigned: {8},
	EncodingPCMSigned:   {16, 24, 32},
	EncodingPCMFloat:    {32},
	EncodingULaw:        {8},
	EncodingALaw:        {8},
}

// SupportedPatterns returns one wildcard pattern (rate and channels not
// specified) per encoding, sample size and byte order the server accepts.
func SupportedPatterns() []Format {
	order := []Encoding{EncodingPCMUnsigned, EncodingPCMSigned, EncodingPCMFloat, EncodingULaw, EncodingALaw}
	var patterns []Format
	for _, enc := range order {
		for _, bits := range sampleLayouts[enc] {
			endians := []bool{false}
			if bits > 8 {
				endians = []bool{false, true}
			}
			for _, be := range endians {
				patterns = append(patterns, Format{
					Encoding:         enc,
					SampleRate:       NotSpecified,
					SampleSizeInBits: bits,
					Channels:         NotSpecified,
					FrameSize:        NotSpecified,
					FrameRate:        NotSpecified,
					BigEndian:        be,
				})
			}
		}
	}
	return patterns
}

// Validate checks that f is fully specified and carriable by the server.
func (f Format) Validate() error {
	sizes, ok := sampleLayouts[f.Encoding]
	if !ok {
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidFormat, f.Encoding)
	}
	validSize := false
	for _, s := range sizes {
		if s == f.SampleSizeInBits {
			validSize = true
			break
		}
	}
	if !validSize {
		return fmt.Errorf("%w: %s does not support %d-bit samples", ErrInvalidFormat, f.Encoding, f.SampleSizeInBits)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: channel count %d outside 1..%d", ErrInvalidFormat, f.Channels, MaxChannels)
	}
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate || math.IsNaN(f.SampleRate) {
		return fmt.Errorf("%w: sample rate %.0f outside 1..%d", ErrInvalidFormat, f.SampleRate, MaxSampleRate)
	}
	if want := frameSizeFor(f.SampleSizeInBits, f.Channels); f.FrameSize != want {
		return fmt.Errorf("%w: frame size %d, expected %d", ErrInvalidFormat, f.FrameSize, want)
	}
	if f.FrameRate != f.SampleRate {
		return fmt.Errorf("%w: frame rate %.0f differs from sample rate %.0f", ErrInvalidFormat, f.FrameRate, f.SampleRate)
	}
	return nil
}

// Matches reports whether f satisfies pattern. NotSpecified fields of the
// pattern match anything; byte order is ignored for 8-bit samples.
func (f Format) Matches(pattern Format) bool {
	if f.Encoding != pattern.Encoding {
		return false
	}
	if pattern.SampleRate != NotSpecified && f.SampleRate != pattern.SampleRate {
		return false
	}
	if pattern.SampleSizeInBits != NotSpecified && f.SampleSizeInBits != pattern.SampleSizeInBits {
		return false
	}
	if pattern.Channels != NotSpecified && f.Channels != pattern.Channels {
		return false
	}
	if pattern.FrameSize != NotSpecified && f.FrameSize != pattern.FrameSize {
		return false
	}
	if pattern.FrameRate != NotSpecified && f.FrameRate != pattern.FrameRate {
		return false
	}
	if f.SampleSizeInBits > 8 && f.BigEndian != pattern.BigEndian {
		return false
	}
	return true
}

// BytesPerSecond returns the data rate of a fully specified format.
func (f Format) BytesPerSecond() float64 {
	return f.FrameRate * float64(f.FrameSize)
}

// FramesToMicros converts a frame count into microseconds of playback.
func (f Format) FramesToMicros(frames int64) int64 {
	if f.FrameRate <= 0 {
		return 0
	}
	return int64(float64(frames) * 1e6 / f.FrameRate)
}

// Silence returns the byte value that encodes silence for the format.
func (f Format) Silence() byte {
	switch f.Encoding {
	case EncodingPCMUnsigned:
		return 0x80
	case EncodingULaw:
		return 0xFF
	case EncodingALaw:
		return 0xD5
	default:
		return 0
	}
}

func (f Format) String() string {
	endian := "le"
	if f.BigEndian {
		endian = "be"
	}
	return fmt.Sprintf("%s %.0fHz %d-bit %dch %s (frame %dB)",
		f.Encoding, f.SampleRate, f.SampleSizeInBits, f.Channels, endian, f.FrameSize)
}

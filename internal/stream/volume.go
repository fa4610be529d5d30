package stream

import (
	"math"
	"sync/atomic"
)

// VolumeStream scales the samples of a Reader by a volume multiplier that can
// be changed while the stream is playing. The multiplier is clamped to
// [0.0, 2.0] to match the 0-200% user-facing volume range.
type VolumeStream struct {
	r   *Reader
	vol atomic.Uint64 // math.Float64bits
}

func NewVolumeStream(r *Reader, volume float64) *VolumeStream {
	vs := &VolumeStream{r: r}
	vs.SetVolume(volume)
	return vs
}

func (vs *VolumeStream) Volume() float64 {
	return math.Float64frombits(vs.vol.Load())
}

func (vs *VolumeStream) SetVolume(v float64) {
	vs.vol.Store(math.Float64bits(min(max(v, 0.0), 2.0)))
}

// ReadFrame pulls the next PCM frame and applies the volume in place.
// An empty frame signals end of stream.
func (vs *VolumeStream) ReadFrame() []byte {
	frame := vs.r.Read()
	if len(frame) == 0 {
		return nil
	}
	v := vs.Volume()
	if v != 1.0 {
		scalePCM16(frame, v)
	}
	return frame
}

// Position is the frame counter of the last frame read.
func (vs *VolumeStream) Position() int64 { return vs.r.Position() }

// FastForward discards up to n buffered frames, returning the counter of the
// last one discarded.
func (vs *VolumeStream) FastForward(n int) int64 { return vs.r.FastForward(n) }

func (vs *VolumeStream) Close() { vs.r.Cleanup() }

// scalePCM16 multiplies interleaved s16le samples by v, saturating at the
// int16 range.
func scalePCM16(b []byte, v float64) {
	for i := 0; i+1 < len(b); i += 2 {
		s := int16(uint16(b[i]) | uint16(b[i+1])<<8)
		scaled := float64(s) * v
		switch {
		case scaled > math.MaxInt16:
			s = math.MaxInt16
		case scaled < math.MinInt16:
			s = math.MinInt16
		default:
			s = int16(scaled)
		}
		b[i] = byte(uint16(s))
		b[i+1] = byte(uint16(s) >> 8)
	}
}

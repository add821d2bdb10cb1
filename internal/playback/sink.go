// Package playback pulls decoded PCM into the audio device and measures how
// loud the emitted audio is.
package playback

import (
	"runtime"
	"sync/atomic"

	"github.com/keshucs12345/voicechat/internal/buffer"
)

// FillStats describes one device callback.
type FillStats struct {
	Requested int
	// Minimum is the least the device would accept, capped at Requested.
	Minimum int
	Real    int
	Silent  int
}

// Sink is the consumer side of the PCM buffer. Fill runs on the audio device
// thread and uses atomics only; it never blocks.
type Sink struct {
	pcm       *buffer.Bounded[int16]
	loudness  atomic.Int32
	busy      atomic.Bool
	resetting atomic.Bool
}

func NewSink(pcm *buffer.Bounded[int16]) *Sink {
	return &Sink{pcm: pcm}
}

// Fill writes a full device buffer: every channel receives the same samples,
// real audio first and silence once the buffer is drained. minFrames is the
// least the device will accept; the whole of out is always written, so any
// request is satisfied.
func (s *Sink) Fill(out [][]int16, minFrames int) FillStats {
	if len(out) == 0 {
		return FillStats{}
	}

	s.busy.Store(true)
	defer s.busy.Store(false)

	first := out[0]
	played := 0
	if !s.resetting.Load() {
		played = s.pcm.Drain(first)
	}

	var lo, hi int16
	for _, v := range first[:played] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	clear(first[played:])
	for _, ch := range out[1:] {
		n := copy(ch, first)
		clear(ch[n:])
	}

	s.loudness.Store(int32(hi) - int32(lo))
	return FillStats{
		Requested: len(first),
		Minimum:   min(max(minFrames, 0), len(first)),
		Real:      played,
		Silent:    len(first) - played,
	}
}

// Loudness is the peak-to-peak amplitude of the real samples in the last callback.
func (s *Sink) Loudness() int {
	return int(s.loudness.Load())
}

// Pending reports how many decoded samples are still waiting to be played.
func (s *Sink) Pending() int {
	return s.pcm.Len()
}

// Reset waits for any in-flight Fill to return, then empties the PCM buffer.
// Fill calls that start while a reset is underway emit silence.
func (s *Sink) Reset() {
	s.resetting.Store(true)
	for s.busy.Load() {
		runtime.Gosched()
	}
	s.pcm.Reset()
	s.loudness.Store(0)
	s.resetting.Store(false)
}

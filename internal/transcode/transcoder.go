// Package transcode decodes a compressed audio body into PCM while it is still
// arriving over the network.
package transcode

import (
	"fmt"

	"github.com/keshucs12345/voicechat/internal/buffer"
)

// DefaultThreshold is the number of undecoded intake bytes that triggers a
// decode pass mid-stream.
const DefaultThreshold = 64 * 1024

// FrameDecoder decodes at most one frame from the front of in.
//
// consumed is how many input bytes the call used up (headers, skipped junk or a
// whole frame) and pcm the mono samples it produced; pcm is only valid until
// the next call. (0, nil, nil) means no complete frame is available yet.
type FrameDecoder interface {
	DecodeFrame(in []byte) (consumed int, pcm []int16, err error)
	Reset()
}

// Transcoder moves bytes from an intake buffer through a FrameDecoder into a
// PCM buffer. It is driven by a single goroutine.
type Transcoder struct {
	in        *buffer.Bounded[byte]
	out       *buffer.Bounded[int16]
	dec       FrameDecoder
	threshold int
}

func New(in *buffer.Bounded[byte], out *buffer.Bounded[int16], dec FrameDecoder, threshold int) *Transcoder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Transcoder{in: in, out: out, dec: dec, threshold: threshold}
}

// Reset clears the intake buffer and decoder state. The PCM buffer belongs to
// the playback side and is reset there.
func (t *Transcoder) Reset() {
	t.in.Reset()
	t.dec.Reset()
}

// Write appends one network chunk and decodes if enough bytes are pending.
// An intake overflow returns an error wrapping buffer.ErrOverflow.
func (t *Transcoder) Write(chunk []byte) error {
	if err := t.in.Append(chunk); err != nil {
		return fmt.Errorf("intake: %w", err)
	}
	if t.in.Len() > t.threshold {
		return t.decode(false)
	}
	return nil
}

// Flush decodes everything that can still be decoded. Call it once the body has ended.
func (t *Transcoder) Flush() error {
	return t.decode(true)
}

// Intake returns every compressed byte received since the last Reset.
func (t *Transcoder) Intake() []byte {
	return t.in.Written()
}

func (t *Transcoder) decode(final bool) error {
	for {
		consumed, pcm, err := t.dec.DecodeFrame(t.in.Unread())
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		if consumed == 0 && len(pcm) == 0 {
			return nil
		}
		if err := t.out.Append(pcm); err != nil {
			return fmt.Errorf("pcm: %w", err)
		}
		if err := t.in.Consume(consumed); err != nil {
			return fmt.Errorf("intake: %w", err)
		}
		if consumed == 0 {
			// a decoder that emits without consuming would spin forever
			return nil
		}
		if !final && t.in.Len() < t.threshold/2 {
			return nil
		}
	}
}

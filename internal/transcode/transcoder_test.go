package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshucs12345/voicechat/internal/buffer"
)

// lengthCodec frames are 0xFF, n, then n payload bytes decoding to n samples.
type lengthCodec struct {
	resets int
}

func (c *lengthCodec) Reset() { c.resets++ }

func (c *lengthCodec) DecodeFrame(in []byte) (int, []int16, error) {
	if len(in) == 0 {
		return 0, nil, nil
	}
	if in[0] != 0xFF {
		return 1, nil, nil
	}
	if len(in) < 2 {
		return 0, nil, nil
	}
	n := int(in[1])
	if len(in) < 2+n {
		return 0, nil, nil
	}
	pcm := make([]int16, n)
	for i, b := range in[2 : 2+n] {
		pcm[i] = int16(b)
	}
	return 2 + n, pcm, nil
}

func testStream() []byte {
	var out []byte
	for i := 1; i <= 40; i++ {
		n := (i * 7) % 23
		out = append(out, 0xFF, byte(n))
		for j := 0; j < n; j++ {
			out = append(out, byte(i+j))
		}
		if i%9 == 0 {
			out = append(out, 0x00, 0x01)
		}
	}
	return out
}

func newTestTranscoder(inCap, outCap, threshold int) (*Transcoder, *buffer.Bounded[int16], *lengthCodec) {
	codec := &lengthCodec{}
	out := buffer.New[int16](outCap)
	return New(buffer.New[byte](inCap), out, codec, threshold), out, codec
}

func TestTranscoder_ChunkingDoesNotChangeOutput(t *testing.T) {
	stream := testStream()

	whole, wholeOut, _ := newTestTranscoder(4096, 4096, 32)
	require.NoError(t, whole.Write(stream))
	require.NoError(t, whole.Flush())

	split, splitOut, _ := newTestTranscoder(4096, 4096, 32)
	cut := len(stream) * 4 / 10
	require.NoError(t, split.Write(stream[:cut]))
	require.NoError(t, split.Write(stream[cut:]))
	require.NoError(t, split.Flush())

	tiny, tinyOut, _ := newTestTranscoder(4096, 4096, 32)
	for i := range stream {
		require.NoError(t, tiny.Write(stream[i:i+1]))
	}
	require.NoError(t, tiny.Flush())

	require.NotZero(t, wholeOut.Len())
	assert.Equal(t, wholeOut.Unread(), splitOut.Unread())
	assert.Equal(t, wholeOut.Unread(), tinyOut.Unread())
}

func TestTranscoder_DecodesOnlyPastThreshold(t *testing.T) {
	tr, out, _ := newTestTranscoder(1024, 1024, 100)

	require.NoError(t, tr.Write([]byte{0xFF, 3, 1, 2, 3}))
	assert.Zero(t, out.Len(), "below threshold nothing is decoded")

	require.NoError(t, tr.Flush())
	assert.Equal(t, []int16{1, 2, 3}, out.Unread())
}

func TestTranscoder_StopsAtHalfThreshold(t *testing.T) {
	tr, out, _ := newTestTranscoder(1024, 1024, 20)

	var stream []byte
	for i := 0; i < 6; i++ {
		stream = append(stream, 0xFF, 2, byte(i), byte(i))
	}
	require.NoError(t, tr.Write(stream))

	// 24 bytes pending, each frame is 4; decoding stops once fewer than 10 remain
	assert.Equal(t, 8, out.Len())
	assert.Equal(t, 8, len(tr.in.Unread()))

	require.NoError(t, tr.Flush())
	assert.Equal(t, 12, out.Len())
}

func TestTranscoder_IncompleteTailWaits(t *testing.T) {
	tr, out, _ := newTestTranscoder(1024, 1024, 4)

	require.NoError(t, tr.Write([]byte{0xFF, 4, 9, 9, 9}))
	require.NoError(t, tr.Flush())
	assert.Zero(t, out.Len())

	require.NoError(t, tr.Write([]byte{9}))
	require.NoError(t, tr.Flush())
	assert.Equal(t, []int16{9, 9, 9, 9}, out.Unread())
}

func TestTranscoder_Overflow(t *testing.T) {
	tr, _, _ := newTestTranscoder(8, 1024, 100)
	require.NoError(t, tr.Write([]byte{1, 2, 3, 4, 5}))
	err := tr.Write([]byte{6, 7, 8, 9})
	require.ErrorIs(t, err, buffer.ErrOverflow)

	tr, _, _ = newTestTranscoder(1024, 2, 100)
	require.NoError(t, tr.Write([]byte{0xFF, 3, 1, 2, 3}))
	require.ErrorIs(t, tr.Flush(), buffer.ErrOverflow)
}

func TestTranscoder_Reset(t *testing.T) {
	tr, _, codec := newTestTranscoder(1024, 1024, 100)
	require.NoError(t, tr.Write([]byte{0xFF, 3, 1}))
	assert.Len(t, tr.Intake(), 3)

	tr.Reset()
	assert.Empty(t, tr.Intake())
	assert.Equal(t, 1, codec.resets)
}

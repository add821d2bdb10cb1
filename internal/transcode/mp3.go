package transcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"
)

const (
	id3HeaderSize  = 10
	mpegHeaderSize = 4
	// go-mp3 always emits 16-bit stereo
	maxFrameBytes = 1152 * 2 * 2
)

var (
	bitratesV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2L3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	sampleRatesV1  = [3]int{44100, 48000, 32000}
	sampleRatesV2  = [3]int{22050, 24000, 16000}
	sampleRatesV25 = [3]int{11025, 12000, 8000}
)

// frameHeader is the decoded 4-byte MPEG audio layer III frame header.
type frameHeader struct {
	mpeg1      bool
	sampleRate int
	bitrate    int
	channels   int
	length     int
}

func parseFrameHeader(b []byte) (frameHeader, bool) {
	if len(b) < mpegHeaderSize || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, false
	}

	var rates [3]int
	var h frameHeader
	switch (b[1] >> 3) & 0x03 {
	case 3:
		rates, h.mpeg1 = sampleRatesV1, true
	case 2:
		rates = sampleRatesV2
	case 0:
		rates = sampleRatesV25
	default:
		return frameHeader{}, false
	}
	if (b[1]>>1)&0x03 != 1 {
		return frameHeader{}, false
	}

	bitrateIndex := b[2] >> 4
	rateIndex := (b[2] >> 2) & 0x03
	if bitrateIndex == 0 || bitrateIndex == 15 || rateIndex == 3 {
		return frameHeader{}, false
	}
	padding := int(b[2]>>1) & 0x01

	h.sampleRate = rates[rateIndex]
	h.channels = 2
	if b[3]>>6 == 3 {
		h.channels = 1
	}
	if h.mpeg1 {
		h.bitrate = bitratesV1L3[bitrateIndex] * 1000
		h.length = 144*h.bitrate/h.sampleRate + padding
	} else {
		h.bitrate = bitratesV2L3[bitrateIndex] * 1000
		h.length = 72*h.bitrate/h.sampleRate + padding
	}
	return h, true
}

// id3TagSize returns the full size of an ID3v2 tag starting at b.
func id3TagSize(b []byte) int {
	size := int(b[6]&0x7F)<<21 | int(b[7]&0x7F)<<14 | int(b[8]&0x7F)<<7 | int(b[9]&0x7F)
	size += id3HeaderSize
	if b[5]&0x10 != 0 {
		size += id3HeaderSize
	}
	return size
}

// MP3Decoder decodes MPEG-1/2/2.5 layer III one frame at a time. Frame
// boundaries are found here; the samples come from go-mp3, which is handed
// exactly one complete frame per call so it never reads past available data.
type MP3Decoder struct {
	log        zerolog.Logger
	feed       bytes.Buffer
	dec        *mp3.Decoder
	raw        []byte
	pcm        []int16
	sampleRate int
}

func NewMP3Decoder(log zerolog.Logger) *MP3Decoder {
	return &MP3Decoder{
		log: log,
		raw: make([]byte, maxFrameBytes),
		pcm: make([]int16, maxFrameBytes/4),
	}
}

// SampleRate reports the rate of the last decoded frame, or 0 before the first.
func (d *MP3Decoder) SampleRate() int { return d.sampleRate }

func (d *MP3Decoder) Reset() {
	d.dec = nil
	d.feed.Reset()
	d.sampleRate = 0
}

func (d *MP3Decoder) DecodeFrame(in []byte) (int, []int16, error) {
	if len(in) < mpegHeaderSize {
		return 0, nil, nil
	}

	if bytes.HasPrefix(in, []byte("ID3")) {
		if len(in) < id3HeaderSize {
			return 0, nil, nil
		}
		size := id3TagSize(in)
		if len(in) < size {
			return 0, nil, nil
		}
		return size, nil, nil
	}

	h, ok := parseFrameHeader(in)
	if !ok {
		// resync on the next candidate frame start
		next := bytes.IndexByte(in[1:], 0xFF)
		if next < 0 {
			return len(in), nil, nil
		}
		return next + 1, nil, nil
	}
	if len(in) < h.length {
		return 0, nil, nil
	}

	pcm, err := d.decode(in[:h.length])
	if err != nil {
		d.log.Debug().Err(err).Int("frame_bytes", h.length).Msg("dropping undecodable frame")
		d.dec = nil
		d.feed.Reset()
		return h.length, nil, nil
	}
	d.sampleRate = h.sampleRate
	return h.length, pcm, nil
}

func (d *MP3Decoder) decode(frame []byte) ([]int16, error) {
	d.feed.Write(frame)
	if d.dec == nil {
		dec, err := mp3.NewDecoder(&d.feed)
		if err != nil {
			return nil, fmt.Errorf("open mp3 stream: %w", err)
		}
		d.dec = dec
	}

	n, err := d.dec.Read(d.raw)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	d.feed.Reset()

	frames := n / 4
	for i := 0; i < frames; i++ {
		l := int32(int16(binary.LittleEndian.Uint16(d.raw[4*i:])))
		r := int32(int16(binary.LittleEndian.Uint16(d.raw[4*i+2:])))
		d.pcm[i] = int16((l + r) / 2)
	}
	return d.pcm[:frames], nil
}

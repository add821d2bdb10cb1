package playback

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultFramesPerBuffer = 512
)

// DeviceConfig selects the output stream format.
type DeviceConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.FramesPerBuffer < 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return c
}

// Device is a PortAudio output stream fed by a Sink.
type Device struct {
	log    zerolog.Logger
	cfg    DeviceConfig
	stream *portaudio.Stream
}

// OpenDevice starts the default output device. On error PortAudio is left
// terminated and the caller should run without playback.
func OpenDevice(log zerolog.Logger, sink *Sink, cfg DeviceConfig) (*Device, error) {
	cfg = cfg.withDefaults()

	log.Info().Msg("initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	callback := func(out [][]int16) {
		if len(out) > 0 {
			sink.Fill(out, len(out[0]))
		}
	}
	stream, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}

	log.Info().
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Int("frames_per_buffer", cfg.FramesPerBuffer).
		Msg("playback started")
	return &Device{log: log, cfg: cfg, stream: stream}, nil
}

func (d *Device) SampleRate() int { return d.cfg.SampleRate }

// Close stops the stream and terminates PortAudio.
func (d *Device) Close() error {
	d.log.Info().Msg("terminating PortAudio")
	if err := d.stream.Stop(); err != nil {
		d.log.Warn().Err(err).Msg("error stopping output stream")
	}
	if err := d.stream.Close(); err != nil {
		d.log.Warn().Err(err).Msg("error closing output stream")
	}
	return portaudio.Terminate()
}

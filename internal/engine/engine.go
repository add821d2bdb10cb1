// Package engine runs the conversation: it drains the inbound mailbox, calls
// the completion and synthesis services and feeds decoded audio to playback.
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicechat/internal/buffer"
	"github.com/keshucs12345/voicechat/internal/config"
	"github.com/keshucs12345/voicechat/internal/history"
	"github.com/keshucs12345/voicechat/internal/mailbox"
	"github.com/keshucs12345/voicechat/internal/metrics"
	"github.com/keshucs12345/voicechat/internal/playback"
	"github.com/keshucs12345/voicechat/internal/transcode"
	"github.com/keshucs12345/voicechat/internal/tts"
)

const DefaultPollInterval = 10 * time.Millisecond

type Options struct {
	Log zerolog.Logger
	// Config returns the current configuration snapshot.
	Config  func() config.Config
	Clients ClientFactory
	Store   HistoryStore
	Inbox   *mailbox.Mailbox
	Outbox  *mailbox.Mailbox
	// PCM is shared with Sink; the engine writes, the sink reads.
	PCM  *buffer.Bounded[int16]
	Sink *playback.Sink
	// Decoder defaults to MP3.
	Decoder transcode.FrameDecoder
	// DeviceRate is the playback sample rate, 0 without a device.
	DeviceRate int
	Rand       *rand.Rand
}

// Engine is a single-goroutine actor. Only the signal accessors (State,
// Emotion, Loudness, Display) are safe to call from other goroutines.
type Engine struct {
	log        zerolog.Logger
	config     func() config.Config
	clientsFor ClientFactory
	store      HistoryStore
	inbox      *mailbox.Mailbox
	outbox     *mailbox.Mailbox
	pcm        *buffer.Bounded[int16]
	sink       *playback.Sink
	dec        transcode.FrameDecoder
	tr         *transcode.Transcoder
	deviceRate int
	rng        *rand.Rand

	// owned by the engine goroutine
	history *history.History
	clients Clients
	chat    config.Chat
	voice   tts.VoiceProfile

	running atomic.Bool
	emotion atomic.Pointer[string]
	display atomic.Pointer[Display]
	done    chan struct{}
}

// New loads the stored conversation. A malformed history file is deleted and
// reported through the outbox; the engine then starts from an empty history.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config().Engine

	if opts.Clients == nil {
		opts.Clients = DefaultClients
	}
	if opts.Decoder == nil {
		opts.Decoder = transcode.NewMP3Decoder(opts.Log.With().Str("component", "transcode").Logger())
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.PCM == nil {
		opts.PCM = buffer.New[int16](cfg.PCMSamples)
	}
	if opts.Sink == nil {
		opts.Sink = playback.NewSink(opts.PCM)
	}

	e := &Engine{
		log:        opts.Log,
		config:     opts.Config,
		clientsFor: opts.Clients,
		store:      opts.Store,
		inbox:      opts.Inbox,
		outbox:     opts.Outbox,
		pcm:        opts.PCM,
		sink:       opts.Sink,
		dec:        opts.Decoder,
		deviceRate: opts.DeviceRate,
		rng:        opts.Rand,
		done:       make(chan struct{}),
	}
	e.tr = transcode.New(buffer.New[byte](cfg.IntakeBytes), e.pcm, e.dec, cfg.DecodeThreshold)
	e.emotion.Store(new(string))

	h, err := e.store.Load()
	if err != nil {
		if !errors.Is(err, history.ErrMalformed) {
			return nil, err
		}
		e.log.Warn().Err(err).Msg("discarding chat history")
		if err := e.store.Remove(); err != nil {
			e.log.Error().Err(err).Msg("failed to remove chat history")
		}
		e.report(&TurnError{Kind: ParseError, Msg: msgHistoryParse, Err: err})
		h = &history.History{}
	}
	e.history = h
	e.refreshDisplay()
	metrics.Running.Set(0)
	return e, nil
}

// Send queues a command for the engine.
func (e *Engine) Send(cmd mailbox.Command) {
	e.inbox.Send(cmd)
}

func (e *Engine) State() State {
	if e.running.Load() {
		return StateRunning
	}
	return StateNotRunning
}

// Emotion is the tag of the latest reply, brackets included.
func (e *Engine) Emotion() string {
	return *e.emotion.Load()
}

// Loudness is the peak-to-peak amplitude of the audio currently playing.
func (e *Engine) Loudness() int {
	return e.sink.Loudness()
}

func (e *Engine) Display() Display {
	if d := e.display.Load(); d != nil {
		return *d
	}
	return Display{}
}

// Run polls the inbound mailbox until a Stop command arrives or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	interval := e.config().Engine.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info().Dur("poll_interval", interval).Msg("engine started")
	for {
		for {
			cmd, ok := e.inbox.TryReceive()
			if !ok {
				break
			}
			if cmd.Kind == mailbox.Stop {
				metrics.CommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()
				e.log.Info().Msg("engine stopped")
				return nil
			}
			e.handle(ctx, cmd)
		}

		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown asks the loop to stop and waits for it to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.inbox.Send(mailbox.Command{Kind: mailbox.Stop})
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handle(ctx context.Context, cmd mailbox.Command) {
	metrics.CommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()
	e.log.Debug().Stringer("kind", cmd.Kind).Msg("command")

	switch cmd.Kind {
	case mailbox.ReloadConfig:
		e.reloadConfig(ctx)
	case mailbox.SetSystemPrompt:
		e.history.SetSystemPrompt(cmd.Payload)
		e.persist()
	case mailbox.ClearHistory:
		e.history.Clear()
		e.persist()
	case mailbox.Chat:
		e.chatTurn(ctx, cmd.Payload)
	default:
		e.log.Warn().Stringer("kind", cmd.Kind).Msg("ignoring command")
	}
}

func (e *Engine) reloadConfig(ctx context.Context) {
	chat := e.config().Chat
	if err := chat.Validate(); err != nil {
		e.stop(&TurnError{Kind: ConfigError, Msg: err.Error()})
		return
	}

	clients, err := e.clientsFor(chat)
	if err != nil {
		e.stop(&TurnError{Kind: ConfigError, Msg: msgNotRunning, Err: err})
		return
	}

	voice, err := clients.Synthesizer.Voice(ctx, chat.VoiceID)
	if err != nil {
		e.stop(&TurnError{Kind: ConfigError, Msg: msgVoice, Err: err})
		return
	}
	if len(voice.Prompts) == 0 {
		e.stop(&TurnError{Kind: ConfigError, Msg: msgNoPrompts})
		return
	}

	e.chat, e.clients, e.voice = chat, clients, voice
	e.setRunning(true)
	e.log.Info().
		Str("model", chat.Model).
		Str("voice_id", chat.VoiceID).
		Int("prompts", len(voice.Prompts)).
		Msg("chat configured")
}

func (e *Engine) setRunning(on bool) {
	e.running.Store(on)
	if on {
		metrics.Running.Set(1)
	} else {
		metrics.Running.Set(0)
	}
}

// stop reports a configuration failure and leaves the engine NotRunning.
func (e *Engine) stop(err *TurnError) {
	e.setRunning(false)
	e.report(err)
}

func (e *Engine) report(err *TurnError) {
	metrics.TurnErrors.WithLabelValues(err.Kind.String()).Inc()
	e.log.Error().Err(err.Err).Stringer("kind", err.Kind).Msg(err.Msg)
	e.outbox.Send(mailbox.Command{Kind: mailbox.Error, Payload: err.Error()})
}

func (e *Engine) persist() {
	if err := e.store.Save(e.history); err != nil {
		e.log.Error().Err(err).Msg("failed to save chat history")
	}
	e.refreshDisplay()
}

func (e *Engine) refreshDisplay() {
	d := Display{Transcript: e.history.Transcript()}
	d.SystemPrompt, _ = e.history.SystemPrompt()
	e.display.Store(&d)
}

func (e *Engine) setEmotion(tag string) {
	e.emotion.Store(&tag)
}

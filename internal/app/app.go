// Package app wires the engine to playback, the UDP listener, the bridge and
// configuration reloads.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keshucs12345/voicechat/internal/bridge"
	"github.com/keshucs12345/voicechat/internal/buffer"
	"github.com/keshucs12345/voicechat/internal/config"
	"github.com/keshucs12345/voicechat/internal/engine"
	"github.com/keshucs12345/voicechat/internal/history"
	"github.com/keshucs12345/voicechat/internal/listener"
	"github.com/keshucs12345/voicechat/internal/logging"
	"github.com/keshucs12345/voicechat/internal/mailbox"
	"github.com/keshucs12345/voicechat/internal/playback"
	"github.com/keshucs12345/voicechat/internal/tts"
)

const shutdownTimeout = 5 * time.Second

// App holds every long-lived component. Build it once in main.
type App struct {
	log      zerolog.Logger
	store    *config.Store
	outbox   *mailbox.Mailbox
	engine   *engine.Engine
	device   *playback.Device
	listener *listener.Listener
	bridge   *bridge.Server
}

func New(store *config.Store, log zerolog.Logger) (*App, error) {
	cfg := store.Snapshot()
	a := &App{log: log, store: store, outbox: mailbox.New()}

	historyStore, err := history.NewFileStore(cfg.Engine.HistoryPath)
	if err != nil {
		return nil, err
	}

	pcm := buffer.New[int16](cfg.Engine.PCMSamples)
	sink := playback.NewSink(pcm)

	deviceRate := 0
	if cfg.Audio.Enabled {
		dev, err := playback.OpenDevice(logging.Component(log, "playback"), sink, playback.DeviceConfig{
			SampleRate:      cfg.Audio.SampleRate,
			Channels:        cfg.Audio.Channels,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		})
		if err != nil {
			log.Error().Err(err).Msg("audio device unavailable, playback disabled")
		} else {
			a.device = dev
			deviceRate = dev.SampleRate()
		}
	}

	a.engine, err = engine.New(engine.Options{
		Log:        logging.Component(log, "engine"),
		Config:     store.Snapshot,
		Store:      historyStore,
		Inbox:      mailbox.New(),
		Outbox:     a.outbox,
		PCM:        pcm,
		Sink:       sink,
		DeviceRate: deviceRate,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Listener.Enabled {
		a.listener, err = listener.Listen(cfg.Listener.Addr, logging.Component(log, "listener"), a.engine)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Bridge.Enabled {
		a.bridge = bridge.New(bridge.Options{
			Log:            logging.Component(log, "bridge"),
			Engine:         a.engine,
			Outbox:         a.outbox,
			Voices:         a.voices,
			SignalInterval: cfg.Bridge.SignalInterval,
		})
	}
	return a, nil
}

func (a *App) Engine() *engine.Engine { return a.engine }

// voices lists the catalogue with the current Reecho credentials.
func (a *App) voices(ctx context.Context) ([]tts.Voice, error) {
	chat := a.store.Snapshot().Chat
	return tts.New(tts.Config{BaseURL: chat.ReechoURL, APIKey: chat.ReechoKey, Timeout: chat.SynthesisTimeout}).Voices(ctx)
}

// Run loads the chat configuration and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.engine.Send(mailbox.Command{Kind: mailbox.ReloadConfig})
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.engine.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.store.Watch(ctx, logging.Component(a.log, "config"), func(config.Config) {
			a.engine.Send(mailbox.Command{Kind: mailbox.ReloadConfig})
		})
	})

	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(ctx) })
	}

	if a.bridge != nil {
		addr := a.store.Snapshot().Bridge.Addr
		g.Go(func() error { return a.bridge.Run(ctx, addr) })
	} else {
		g.Go(func() error { return a.logErrors(ctx) })
	}

	return g.Wait()
}

// logErrors consumes the outbox when no front end is attached.
func (a *App) logErrors(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		for {
			cmd, ok := a.outbox.TryReceive()
			if !ok {
				break
			}
			a.log.Error().Stringer("kind", cmd.Kind).Msg(cmd.Payload)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases the audio device.
func (a *App) Close() error {
	if a.device == nil {
		return nil
	}
	err := a.device.Close()
	a.device = nil
	return err
}

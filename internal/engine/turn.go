package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicechat/internal/buffer"
	"github.com/keshucs12345/voicechat/internal/emotion"
	"github.com/keshucs12345/voicechat/internal/history"
	"github.com/keshucs12345/voicechat/internal/llm"
	"github.com/keshucs12345/voicechat/internal/metrics"
	"github.com/keshucs12345/voicechat/internal/playback"
	"github.com/keshucs12345/voicechat/internal/tts"
)

// chatTurn appends the user's text, asks for a reply and speaks it. A failed
// completion leaves the user message in place and skips persistence.
func (e *Engine) chatTurn(ctx context.Context, text string) {
	if !e.running.Load() {
		e.report(&TurnError{Kind: ConfigError, Msg: msgNotRunning})
		return
	}

	turnID := uuid.NewString()
	log := e.log.With().Str("turn", turnID).Logger()

	if err := e.history.Append(history.Message{Role: history.RoleUser, Content: text}); err != nil {
		e.report(&TurnError{Kind: ParseError, Msg: msgCompletionParse, Err: err})
		return
	}

	log.Info().Str("text", text).Msg("sending chat")
	start := time.Now()
	reply, err := e.clients.Completer.Complete(ctx, e.history.Messages())
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, llm.ErrMalformedResponse) {
			e.report(&TurnError{Kind: ParseError, Msg: msgCompletionParse, Err: err})
		} else {
			e.report(&TurnError{Kind: RemoteCallError, Msg: msgCompletion, Err: err})
		}
		return
	}
	if err := e.history.Append(reply); err != nil {
		e.report(&TurnError{Kind: ParseError, Msg: msgCompletionParse, Err: err})
		return
	}
	log.Info().Str("reply", reply.Content).Dur("took", time.Since(start)).Msg("completion received")

	e.persist()

	clean, tag := emotion.Extract(reply.Content)
	e.setEmotion(tag)
	e.speak(ctx, log, turnID, tts.Response{Text: clean, EmotionTag: tag})
}

// speak synthesizes one response and streams it into the playback buffer.
func (e *Engine) speak(ctx context.Context, log zerolog.Logger, turnID string, resp tts.Response) {
	prompt, matched, ok := e.voice.PromptFor(resp.EmotionTag, e.rng)
	if !ok {
		e.stop(&TurnError{Kind: ConfigError, Msg: msgNoPrompts})
		return
	}
	log.Debug().Str("tag", resp.EmotionTag).Str("prompt", prompt.Name).Bool("matched", matched).Msg("voice prompt selected")

	streamURL, err := e.clients.Synthesizer.Synthesize(ctx, tts.Request{
		VoiceID:  e.chat.VoiceID,
		PromptID: prompt.ID,
		Text:     resp.Text,
	})
	if err != nil {
		if errors.Is(err, tts.ErrMalformedResponse) {
			e.report(&TurnError{Kind: ParseError, Msg: msgSynthesis, Err: err})
		} else {
			e.report(&TurnError{Kind: RemoteCallError, Msg: msgSynthesis, Err: err})
		}
		return
	}

	e.sink.Reset()
	e.tr.Reset()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	data, errc := e.clients.Synthesizer.Stream(streamCtx, streamURL)

	for chunk := range data {
		metrics.IntakeBytes.Add(float64(len(chunk)))
		if err := e.tr.Write(chunk); err != nil {
			e.abortTurn(cancel, err)
			return
		}
	}
	streamErr := <-errc

	if err := e.tr.Flush(); err != nil {
		e.abortTurn(cancel, err)
		return
	}

	decoded := len(e.pcm.Written())
	metrics.DecodedSamples.Add(float64(decoded))
	rate := e.streamRate()
	if rate != 0 && e.deviceRate != 0 && rate != e.deviceRate {
		log.Warn().Int("stream_rate", rate).Int("device_rate", e.deviceRate).Msg("sample rate mismatch, playback speed will be off")
	}

	if dir := e.config().Engine.DumpDir; dir != "" {
		if rate == 0 {
			rate = e.deviceRate
		}
		if err := playback.DumpTurn(dir, turnID, e.tr.Intake(), e.pcm.Written(), rate); err != nil {
			log.Warn().Err(err).Msg("failed to dump turn audio")
		}
	}

	if streamErr != nil {
		e.report(&TurnError{Kind: RemoteCallError, Msg: msgStream, Err: streamErr})
		return
	}

	metrics.TurnsTotal.Inc()
	log.Info().
		Int("intake_bytes", len(e.tr.Intake())).
		Int("samples", decoded).
		Msg("synthesis turn complete")
}

// abortTurn stops the fetch and empties both buffers. Audio already queued is dropped.
func (e *Engine) abortTurn(cancel context.CancelFunc, err error) {
	cancel()
	e.sink.Reset()
	e.tr.Reset()
	if errors.Is(err, buffer.ErrOverflow) {
		e.report(&TurnError{Kind: BufferOverflowError, Msg: msgOverflow, Err: err})
		return
	}
	e.report(&TurnError{Kind: ParseError, Msg: msgSynthesis, Err: err})
}

func (e *Engine) streamRate() int {
	if r, ok := e.dec.(interface{ SampleRate() int }); ok {
		return r.SampleRate()
	}
	return 0
}

// Package bridge exposes the engine to an avatar front end over HTTP and a
// websocket push channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicechat/internal/engine"
	"github.com/keshucs12345/voicechat/internal/mailbox"
	"github.com/keshucs12345/voicechat/internal/tts"
)

// Engine is the part of the engine the front end may touch.
type Engine interface {
	Send(cmd mailbox.Command)
	State() engine.State
	Emotion() string
	Loudness() int
	Display() engine.Display
}

// VoiceLister returns the selectable voices.
type VoiceLister func(ctx context.Context) ([]tts.Voice, error)

type Options struct {
	Log            zerolog.Logger
	Engine         Engine
	Outbox         *mailbox.Mailbox
	Voices         VoiceLister
	SignalInterval time.Duration
}

type Server struct {
	log      zerolog.Logger
	echo     *echo.Echo
	eng      Engine
	hub      *Hub
	voices   VoiceLister
	interval time.Duration
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		log:      opts.Log,
		echo:     e,
		eng:      opts.Engine,
		hub:      NewHub(opts.Log, opts.Engine, opts.Outbox),
		voices:   opts.Voices,
		interval: opts.SignalInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// local front ends are served from file:// or other ports
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.register(e)
	return s
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/state", s.state)
	e.POST("/commands", s.command)
	e.GET("/voices", s.listVoices)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.websocket)
}

func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr and pumps the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("bridge listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = s.hub.Run(hubCtx, s.interval) }()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return s.echo.Shutdown(shutdownCtx)
}

type stateResponse struct {
	State        string `json:"state"`
	Running      bool   `json:"running"`
	Emotion      string `json:"emotion"`
	Loudness     int    `json:"loudness"`
	SystemPrompt string `json:"system_prompt"`
	Transcript   string `json:"transcript"`
}

func (s *Server) state(c echo.Context) error {
	st := s.eng.State()
	d := s.eng.Display()
	return c.JSON(http.StatusOK, stateResponse{
		State:        st.String(),
		Running:      st == engine.StateRunning,
		Emotion:      s.eng.Emotion(),
		Loudness:     s.eng.Loudness(),
		SystemPrompt: d.SystemPrompt,
		Transcript:   d.Transcript,
	})
}

func (s *Server) command(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	cmd, err := req.command()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.eng.Send(cmd)
	return c.NoContent(http.StatusAccepted)
}

type voiceResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Server) listVoices(c echo.Context) error {
	if s.voices == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "voice catalogue unavailable"})
	}
	voices, err := s.voices(c.Request().Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("list voices failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	out := make([]voiceResponse, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceResponse{ID: v.ID, Name: v.Name, Label: v.Label()})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) websocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	s.hub.serve(conn)
	return nil
}

// command validates a request. Stop and Error belong to the process, not the front end.
func (r CommandRequest) command() (mailbox.Command, error) {
	kind, ok := mailbox.ParseKind(r.Kind)
	if !ok {
		return mailbox.Command{}, fmt.Errorf("unknown command kind %q", r.Kind)
	}
	switch kind {
	case mailbox.Chat, mailbox.SetSystemPrompt, mailbox.ClearHistory, mailbox.ReloadConfig:
		return mailbox.Command{Kind: kind, Payload: r.Payload}, nil
	default:
		return mailbox.Command{}, fmt.Errorf("command %q not accepted from clients", r.Kind)
	}
}

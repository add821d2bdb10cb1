// Package config loads voicechat settings from .env, an optional config file
// and VOICECHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOICECHAT"

// Config is an immutable snapshot of every setting.
type Config struct {
	Chat     Chat     `mapstructure:"chat"`
	Engine   Engine   `mapstructure:"engine"`
	Audio    Audio    `mapstructure:"audio"`
	Listener Listener `mapstructure:"listener"`
	Bridge   Bridge   `mapstructure:"bridge"`
	Log      Log      `mapstructure:"log"`
}

// Chat configures the remote services a conversation turn depends on.
type Chat struct {
	LLMURL            string        `mapstructure:"llm_url"`
	LLMKey            string        `mapstructure:"llm_key"`
	Model             string        `mapstructure:"model"`
	Proxy             string        `mapstructure:"proxy"` // completion calls only
	VoiceID           string        `mapstructure:"voice_id"`
	ReechoURL         string        `mapstructure:"reecho_url"`
	ReechoKey         string        `mapstructure:"reecho_key"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	SynthesisTimeout  time.Duration `mapstructure:"synthesis_timeout"`
	StreamTimeout     time.Duration `mapstructure:"stream_timeout"` // 0 = unbounded
}

// Engine configures the conversation loop and its audio buffers.
type Engine struct {
	HistoryPath     string        `mapstructure:"history_path"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	IntakeBytes     int           `mapstructure:"intake_bytes"`
	PCMSamples      int           `mapstructure:"pcm_samples"`
	DecodeThreshold int           `mapstructure:"decode_threshold"`
	DumpDir         string        `mapstructure:"dump_dir"` // empty disables per-turn dumps
}

type Audio struct {
	Enabled         bool `mapstructure:"enabled"`
	SampleRate      int  `mapstructure:"sample_rate"`
	Channels        int  `mapstructure:"channels"`
	FramesPerBuffer int  `mapstructure:"frames_per_buffer"`
}

type Listener struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type Bridge struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	SignalInterval time.Duration `mapstructure:"signal_interval"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// streamBufferSize holds ten minutes of 44.1 kHz audio.
const streamBufferSize = 44100 * 60 * 10

func setDefaults(v *viper.Viper) {
	v.SetDefault("chat.llm_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("chat.llm_key", "")
	v.SetDefault("chat.model", "gpt-4o-mini")
	v.SetDefault("chat.proxy", "")
	v.SetDefault("chat.voice_id", "")
	v.SetDefault("chat.reecho_url", "https://v1.reecho.cn/api")
	v.SetDefault("chat.reecho_key", "")
	v.SetDefault("chat.completion_timeout", 10*time.Second)
	v.SetDefault("chat.synthesis_timeout", 10*time.Second)
	v.SetDefault("chat.stream_timeout", time.Duration(0))

	v.SetDefault("engine.history_path", "chat_history.json")
	v.SetDefault("engine.poll_interval", 10*time.Millisecond)
	v.SetDefault("engine.intake_bytes", streamBufferSize)
	v.SetDefault("engine.pcm_samples", streamBufferSize)
	v.SetDefault("engine.decode_threshold", 65536)
	v.SetDefault("engine.dump_dir", "")

	v.SetDefault("audio.enabled", true)
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.frames_per_buffer", 512)

	v.SetDefault("listener.enabled", true)
	v.SetDefault("listener.addr", ":12888")

	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.addr", "127.0.0.1:8088")
	v.SetDefault("bridge.signal_interval", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Store owns the viper instance and the current snapshot.
type Store struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
}

// Options locate the optional files. Empty EnvFile skips .env loading;
// empty File searches the working directory for voicechat.{yaml,json,toml}.
type Options struct {
	EnvFile string
	File    string
}

// Load reads .env into the process environment, then builds the first snapshot.
func Load(opts Options) (*Store, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// bare names kept for existing .env files
	_ = v.BindEnv("chat.llm_key", EnvPrefix+"_CHAT_LLM_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("chat.reecho_key", EnvPrefix+"_CHAT_REECHO_KEY", "REECHO_API_KEY")

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("voicechat")
		v.AddConfigPath(".")
	}

	s := &Store{v: v}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file and replaces the snapshot. On error the
// previous snapshot stays current.
func (s *Store) Reload() (Config, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	s.current.Store(&cfg)
	return cfg, nil
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() Config {
	return *s.current.Load()
}

// File is the config file in use, or "" when running on defaults and env only.
func (s *Store) File() string {
	return s.v.ConfigFileUsed()
}

// Validate reports every missing setting a conversation needs, one line each.
func (c Chat) Validate() error {
	var b strings.Builder
	if c.LLMKey == "" || c.LLMURL == "" {
		b.WriteString("! LLM API key is not set.\n")
	}
	if c.Model == "" {
		b.WriteString("! LLM API model is not set.\n")
	}
	if c.VoiceID == "" {
		b.WriteString("! Reecho ID is not set.\n")
	}
	if c.ReechoKey == "" {
		b.WriteString("! Reecho API key is not set.\n")
	}
	if b.Len() == 0 {
		return nil
	}
	return errors.New(b.String())
}

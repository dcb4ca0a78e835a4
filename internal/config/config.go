package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed instructions_bg.txt
var defaultInstructions string

// DefaultInstructions is the receptionist persona used when AGENT_INSTRUCTIONS_FILE is unset.
func DefaultInstructions() string { return defaultInstructions }

// Config contains all runtime settings for the receptionist.
type Config struct {
	Env              string
	LogLevel         string
	BindAddr         string
	ShutdownTimeout  time.Duration
	ConnectTimeout   time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	VoiceProvider    string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiFallback   string
	GeminiVoice      string
	GeminiBaseURL    string
	GeminiTranscribe bool
	Instructions     string

	AudioDevice        string
	FFmpegInputFormat  string
	FFmpegInputDevice  string
	AudioProbeTimeout  time.Duration
	WAVInputPath       string
	WAVOutputPath      string
	CaptureSampleRate  int
	CaptureFrameSize   int
	PlaybackSampleRate int
	PlaybackGain       float64
	RenderInterval     time.Duration
	MeterInterval      time.Duration

	SessionIdleTimeout time.Duration

	DefaultCustomerName string
	DefaultTime         string
	DefaultProcedure    string
	DefaultPhone        string
}

// Load reads receptionist.yaml (if present) and environment variables and applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("receptionist")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_BIND_ADDR", "127.0.0.1:8080")
	v.SetDefault("APP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("APP_CONNECT_TIMEOUT", "20s")
	v.SetDefault("APP_METRICS_NAMESPACE", "receptionist")
	v.SetDefault("APP_ALLOW_ANY_ORIGIN", "false")
	v.SetDefault("VOICE_PROVIDER", "auto")
	v.SetDefault("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025")
	v.SetDefault("GEMINI_VOICE_NAME", "Kore")
	v.SetDefault("GEMINI_TRANSCRIBE", "false")
	v.SetDefault("AUDIO_DEVICE", "ffmpeg")
	v.SetDefault("AUDIO_PROBE_TIMEOUT", "3s")
	v.SetDefault("AUDIO_CAPTURE_SAMPLE_RATE", "16000")
	v.SetDefault("AUDIO_CAPTURE_FRAME_SIZE", "4096")
	v.SetDefault("AUDIO_PLAYBACK_SAMPLE_RATE", "24000")
	v.SetDefault("AUDIO_PLAYBACK_GAIN", "1.0")
	v.SetDefault("AUDIO_RENDER_INTERVAL", "20ms")
	v.SetDefault("AUDIO_METER_INTERVAL", "50ms")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "0s")
	v.SetDefault("APPOINTMENT_DEFAULT_NAME", "Пациент")
	v.SetDefault("APPOINTMENT_DEFAULT_TIME", "10:00")
	v.SetDefault("APPOINTMENT_DEFAULT_PROCEDURE", "Преглед")
	v.SetDefault("APPOINTMENT_DEFAULT_PHONE", "N/A")
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:                 strings.ToLower(str(v, "APP_ENV")),
		LogLevel:            strings.ToLower(str(v, "APP_LOG_LEVEL")),
		BindAddr:            str(v, "APP_BIND_ADDR"),
		MetricsNamespace:    str(v, "APP_METRICS_NAMESPACE"),
		VoiceProvider:       strings.ToLower(str(v, "VOICE_PROVIDER")),
		GeminiAPIKey:        str(v, "GEMINI_API_KEY"),
		GeminiModel:         str(v, "GEMINI_LIVE_MODEL"),
		GeminiFallback:      str(v, "GEMINI_FALLBACK_MODEL"),
		GeminiVoice:         str(v, "GEMINI_VOICE_NAME"),
		GeminiBaseURL:       str(v, "GEMINI_BASE_URL"),
		AudioDevice:         strings.ToLower(str(v, "AUDIO_DEVICE")),
		FFmpegInputFormat:   str(v, "AUDIO_FFMPEG_INPUT_FORMAT"),
		FFmpegInputDevice:   str(v, "AUDIO_FFMPEG_INPUT_DEVICE"),
		WAVInputPath:        str(v, "AUDIO_WAV_INPUT_PATH"),
		WAVOutputPath:       str(v, "AUDIO_WAV_OUTPUT_PATH"),
		DefaultCustomerName: str(v, "APPOINTMENT_DEFAULT_NAME"),
		DefaultTime:         str(v, "APPOINTMENT_DEFAULT_TIME"),
		DefaultProcedure:    str(v, "APPOINTMENT_DEFAULT_PROCEDURE"),
		DefaultPhone:        str(v, "APPOINTMENT_DEFAULT_PHONE"),
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = str(v, "GOOGLE_API_KEY")
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"AUDIO_PROBE_TIMEOUT", &cfg.AudioProbeTimeout},
		{"AUDIO_RENDER_INTERVAL", &cfg.RenderInterval},
		{"AUDIO_METER_INTERVAL", &cfg.MeterInterval},
		{"SESSION_IDLE_TIMEOUT", &cfg.SessionIdleTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = duration(v, d.key); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"AUDIO_CAPTURE_SAMPLE_RATE", &cfg.CaptureSampleRate},
		{"AUDIO_CAPTURE_FRAME_SIZE", &cfg.CaptureFrameSize},
		{"AUDIO_PLAYBACK_SAMPLE_RATE", &cfg.PlaybackSampleRate},
	}
	for _, n := range ints {
		if *n.dst, err = integer(v, n.key); err != nil {
			return Config{}, err
		}
	}
	if cfg.PlaybackGain, err = float(v, "AUDIO_PLAYBACK_GAIN"); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolean(v, "APP_ALLOW_ANY_ORIGIN"); err != nil {
		return Config{}, err
	}
	if cfg.GeminiTranscribe, err = boolean(v, "GEMINI_TRANSCRIBE"); err != nil {
		return Config{}, err
	}

	cfg.Instructions = defaultInstructions
	if path := str(v, "AGENT_INSTRUCTIONS_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("AGENT_INSTRUCTIONS_FILE: %w", err)
		}
		cfg.Instructions = string(raw)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.VoiceProvider {
	case "auto", "gemini", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be one of auto|gemini|mock, got %q", c.VoiceProvider)
	}
	if c.VoiceProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("VOICE_PROVIDER=gemini requires GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	switch c.AudioDevice {
	case "ffmpeg", "wav":
	default:
		return fmt.Errorf("AUDIO_DEVICE must be ffmpeg or wav, got %q", c.AudioDevice)
	}
	if c.CaptureSampleRate <= 0 || c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("audio sample rates must be positive")
	}
	if c.CaptureFrameSize <= 0 {
		return fmt.Errorf("AUDIO_CAPTURE_FRAME_SIZE must be positive")
	}
	if c.PlaybackGain <= 0 {
		return fmt.Errorf("AUDIO_PLAYBACK_GAIN must be positive")
	}
	if c.RenderInterval <= 0 || c.MeterInterval <= 0 {
		return fmt.Errorf("AUDIO_RENDER_INTERVAL and AUDIO_METER_INTERVAL must be positive")
	}
	if c.SessionIdleTimeout != 0 && c.SessionIdleTimeout < 5*time.Second {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be 0 or at least 5s")
	}
	if strings.TrimSpace(c.Instructions) == "" {
		return fmt.Errorf("agent instructions must not be empty")
	}
	return nil
}

// ResolvedProvider maps "auto" to gemini when an API key is configured, else mock.
func (c Config) ResolvedProvider() string {
	if c.VoiceProvider != "auto" {
		return c.VoiceProvider
	}
	if c.GeminiAPIKey != "" {
		return "gemini"
	}
	return "mock"
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(str(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func integer(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(str(v, key))
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func float(v *viper.Viper, key string) (float64, error) {
	f, err := strconv.ParseFloat(str(v, key), 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolean(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(str(v, key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env     string `env:"ENV" envDefault:"production"`
	LogFile string `env:"LOG_FILE" envDefault:"kikitori.log"`

	Transcriber            string        `env:"TRANSCRIBER" envDefault:"deepgram"`
	DeepgramAPIKey         string        `env:"DEEPGRAM_API_KEY"`
	DeepgramEndpoint       string        `env:"DEEPGRAM_ENDPOINT" envDefault:"wss://api.deepgram.com/v1/listen"`
	DeepgramModel          string        `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`
	TranscribeLanguage     string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	DeepgramSmartFormat    bool          `env:"DEEPGRAM_SMART_FORMAT" envDefault:"true"`
	DeepgramInterimResults bool          `env:"DEEPGRAM_INTERIM_RESULTS" envDefault:"true"`
	DeepgramDiarize        bool          `env:"DEEPGRAM_DIARIZE" envDefault:"true"`
	DeepgramUtteranceEndMs int           `env:"DEEPGRAM_UTTERANCE_END_MS" envDefault:"1000"`
	DeepgramEndpointingMs  int           `env:"DEEPGRAM_ENDPOINTING_MS" envDefault:"300"`
	ConnectTimeout         time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	AudioSource           string `env:"AUDIO_SOURCE" envDefault:"microphone"`
	AudioWAVPath          string `env:"AUDIO_WAV_PATH"`
	AudioDeviceID         int    `env:"AUDIO_DEVICE_ID" envDefault:"-1"`
	AudioBufferMultiplier int    `env:"AUDIO_BUFFER_MULTIPLIER" envDefault:"3"`

	DatabaseURL          string `env:"DATABASE_URL"`
	TranscriptTimezone   string `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
	TranscriptWebhookURL string `env:"TRANSCRIPT_WEBHOOK_URL"`
	DiscordToken         string `env:"DISCORD_TOKEN"`
	DiscordChannelID     string `env:"DISCORD_CHANNEL_ID"`
}

// Load reads .env files (when present) into the process environment and
// builds a validated configuration from it.
func Load(envFiles ...string) (*internalconfig.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("env file not found; using process environment", "path", f)
				continue
			}
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		LogFile:                    raw.LogFile,
		Transcriber:                raw.Transcriber,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramEndpoint:           raw.DeepgramEndpoint,
		DeepgramModel:              raw.DeepgramModel,
		TranscribeLanguage:         raw.TranscribeLanguage,
		DeepgramSmartFormat:        raw.DeepgramSmartFormat,
		DeepgramInterimResults:     raw.DeepgramInterimResults,
		DeepgramDiarize:            raw.DeepgramDiarize,
		DeepgramUtteranceEndMs:     raw.DeepgramUtteranceEndMs,
		DeepgramEndpointingMs:      raw.DeepgramEndpointingMs,
		ConnectTimeout:             raw.ConnectTimeout,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		AudioSource:                raw.AudioSource,
		AudioWAVPath:               raw.AudioWAVPath,
		AudioDeviceID:              raw.AudioDeviceID,
		AudioBufferMultiplier:      raw.AudioBufferMultiplier,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		DiscordToken:               raw.DiscordToken,
		DiscordChannelID:           raw.DiscordChannelID,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

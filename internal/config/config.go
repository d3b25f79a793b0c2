package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	TranscriberDeepgram = "deepgram"
	TranscriberGoogle   = "google"

	AudioSourceMicrophone = "microphone"
	AudioSourceWAV        = "wav"

	// AudioDeviceDefault selects the host's default input device.
	AudioDeviceDefault = -1
)

var databaseURLPrefixes = []string{"postgres://", "postgresql://", "sqlite:", "file:"}

type Config struct {
	Env     string
	LogFile string

	Transcriber            string
	DeepgramAPIKey         string
	DeepgramEndpoint       string
	DeepgramModel          string
	TranscribeLanguage     string
	DeepgramSmartFormat    bool
	DeepgramInterimResults bool
	DeepgramDiarize        bool
	DeepgramUtteranceEndMs int
	DeepgramEndpointingMs  int
	ConnectTimeout         time.Duration

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	AudioSource           string
	AudioWAVPath          string
	AudioDeviceID         int
	AudioBufferMultiplier int

	DatabaseURL          string
	TranscriptTimezone   string
	TranscriptWebhookURL string
	DiscordToken         string
	DiscordChannelID     string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive, got %s", c.ConnectTimeout)
	}
	if c.AudioBufferMultiplier < 1 {
		return fmt.Errorf("AUDIO_BUFFER_MULTIPLIER must be at least 1, got %d", c.AudioBufferMultiplier)
	}
	if c.AudioDeviceID < AudioDeviceDefault {
		return fmt.Errorf("AUDIO_DEVICE_ID must be -1 (default device) or a device index, got %d", c.AudioDeviceID)
	}
	if c.DatabaseURL != "" && !hasAnyPrefix(c.DatabaseURL, databaseURLPrefixes...) {
		return fmt.Errorf("DATABASE_URL must start with one of %s", strings.Join(databaseURLPrefixes, ", "))
	}
	if (c.DiscordToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	checks := []requiredEnvField{
		{name: "TRANSCRIBE_LANGUAGE", value: c.TranscribeLanguage},
	}
	switch c.Transcriber {
	case TranscriberDeepgram:
		checks = append(checks,
			requiredEnvField{name: "DEEPGRAM_API_KEY", value: c.DeepgramAPIKey},
			requiredEnvField{name: "DEEPGRAM_ENDPOINT", value: c.DeepgramEndpoint},
			requiredEnvField{name: "DEEPGRAM_MODEL", value: c.DeepgramModel},
		)
	case TranscriberGoogle:
		checks = append(checks,
			requiredEnvField{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
			requiredEnvField{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		)
	default:
		checks = append(checks, requiredEnvField{name: "TRANSCRIBER (deepgram|google)", value: ""})
	}
	switch c.AudioSource {
	case AudioSourceMicrophone:
	case AudioSourceWAV:
		checks = append(checks, requiredEnvField{name: "AUDIO_WAV_PATH", value: c.AudioWAVPath})
	default:
		checks = append(checks, requiredEnvField{name: "AUDIO_SOURCE (microphone|wav)", value: ""})
	}
	return checks
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}

// OutputsEnabled reports whether finished sessions go anywhere besides the
// screen.
func (c *Config) OutputsEnabled() bool {
	return c.ArchiveEnabled() || c.TranscriptWebhookURL != "" || c.DiscordToken != ""
}

func (c *Config) UsesPostgres() bool {
	return hasAnyPrefix(c.DatabaseURL, "postgres://", "postgresql://")
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/movehive/voicedesk/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	LiveKitURL                 string `env:"LIVEKIT_URL"`
	LiveKitAPIKey              string `env:"LIVEKIT_API_KEY"`
	LiveKitAPISecret           string `env:"LIVEKIT_API_SECRET"`
	TranscribeLanguage         string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`
	AudioTranscribe            bool   `env:"AUDIO_TRANSCRIBE" envDefault:"false"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	SessionWebhookURL          string `env:"SESSION_WEBHOOK_URL"`
	CloseDrainTimeoutSec       int    `env:"CLOSE_DRAIN_TIMEOUT_SEC" envDefault:"30"`
	WriteRetryDeadlineSec      int    `env:"WRITE_RETRY_DEADLINE_SEC" envDefault:"120"`
	DashboardAddr              string `env:"DASHBOARD_ADDR" envDefault:":8501"`
}

// LoadWorker loads and validates the configuration of the session worker,
// which needs the room backend credentials.
func LoadWorker() (*internalconfig.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDashboard loads and validates the configuration of the read-only
// dashboard process. The LiveKit credentials are not required here.
func LoadDashboard() (*internalconfig.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateDashboard(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	return &internalconfig.Config{
		Env:                        raw.Env,
		DatabaseURL:                raw.DatabaseURL,
		LiveKitURL:                 raw.LiveKitURL,
		LiveKitAPIKey:              raw.LiveKitAPIKey,
		LiveKitAPISecret:           raw.LiveKitAPISecret,
		TranscribeLanguage:         raw.TranscribeLanguage,
		AudioTranscribe:            raw.AudioTranscribe,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		SessionWebhookURL:          raw.SessionWebhookURL,
		CloseDrainTimeout:          time.Duration(raw.CloseDrainTimeoutSec) * time.Second,
		WriteRetryDeadline:         time.Duration(raw.WriteRetryDeadlineSec) * time.Second,
		DashboardAddr:              raw.DashboardAddr,
	}, nil
}

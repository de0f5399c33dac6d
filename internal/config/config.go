package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	DatabaseURL                string
	LiveKitURL                 string
	LiveKitAPIKey              string
	LiveKitAPISecret           string
	TranscribeLanguage         string
	AudioTranscribe            bool
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	SessionWebhookURL          string
	CloseDrainTimeout          time.Duration
	WriteRetryDeadline         time.Duration
	DashboardAddr              string
}

// ValidateWorker checks everything the session worker needs, including the
// room backend credentials.
func (c *Config) ValidateWorker() error {
	for _, req := range c.workerRequiredFields() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.AudioTranscribe {
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when AUDIO_TRANSCRIBE=true")
		}
		if c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when AUDIO_TRANSCRIBE=true")
		}
	}
	if c.CloseDrainTimeout <= 0 {
		return fmt.Errorf("CLOSE_DRAIN_TIMEOUT_SEC must be positive, got %s", c.CloseDrainTimeout)
	}
	if c.WriteRetryDeadline <= 0 {
		return fmt.Errorf("WRITE_RETRY_DEADLINE_SEC must be positive, got %s", c.WriteRetryDeadline)
	}
	return nil
}

// ValidateDashboard checks only what the read-only dashboard process uses;
// it must start without the worker's room backend credentials.
func (c *Config) ValidateDashboard() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DashboardAddr == "" {
		return fmt.Errorf("DASHBOARD_ADDR is required")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) workerRequiredFields() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "LIVEKIT_URL", value: c.LiveKitURL},
		{name: "LIVEKIT_API_KEY", value: c.LiveKitAPIKey},
		{name: "LIVEKIT_API_SECRET", value: c.LiveKitAPISecret},
		{name: "TRANSCRIBE_LANGUAGE", value: c.TranscribeLanguage},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

package config

import (
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Flags in main.go bind to these; SetDefaults fills the rest.
const (
	KeyBaseURL           = "base_url"
	KeyStrategy          = "strategy"
	KeyRecordLimit       = "record_limit"
	KeyMinRecordingBytes = "min_recording_bytes"
	KeyMicFormat         = "mic_format"
	KeyMicDevice         = "mic_device"
	KeyDeepgramAPIKey    = "deepgram_api_key"
	KeyElevenlabsAPIKey  = "elevenlabs_api_key"
	KeyGeminiAPIKey      = "gemini_api_key"
	KeyServePort         = "serve_port"
)

func SetDefaults() {
	viper.SetDefault(KeyBaseURL, "http://127.0.0.1:5001")
	viper.SetDefault(KeyStrategy, "auto")
	viper.SetDefault(KeyRecordLimit, 15*time.Second)
	viper.SetDefault(KeyMinRecordingBytes, 4096)
	viper.SetDefault(KeyMicFormat, "pulse")
	viper.SetDefault(KeyMicDevice, "default")
	viper.SetDefault(KeyServePort, 5001)
}

// BaseURL is the root of the assistant backend (greet, speak, chat).
func BaseURL() string {
	return viper.GetString(KeyBaseURL)
}

// Strategy selects the speech capture mechanism: auto, native, or manual.
func Strategy() string {
	return viper.GetString(KeyStrategy)
}

// RecordLimit caps the duration of a manual recording. Recording stops by
// itself once it elapses.
func RecordLimit() time.Duration {
	return viper.GetDuration(KeyRecordLimit)
}

// MinRecordingBytes is the smallest payload worth sending to the backend.
// Anything shorter is treated as noise and discarded.
func MinRecordingBytes() int {
	return viper.GetInt(KeyMinRecordingBytes)
}

func MicFormat() string {
	return viper.GetString(KeyMicFormat)
}

func MicDevice() string {
	return viper.GetString(KeyMicDevice)
}

func DeepgramAPIKey() string {
	return viper.GetString(KeyDeepgramAPIKey)
}

func ElevenlabsAPIKey() string {
	return viper.GetString(KeyElevenlabsAPIKey)
}

func GeminiAPIKey() string {
	return viper.GetString(KeyGeminiAPIKey)
}

func ServePort() int {
	return viper.GetInt(KeyServePort)
}

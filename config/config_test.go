package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	if got := BaseURL(); got != "http://127.0.0.1:5001" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := Strategy(); got != "auto" {
		t.Errorf("Strategy = %q", got)
	}
	if got := RecordLimit(); got != 15*time.Second {
		t.Errorf("RecordLimit = %v", got)
	}
	if got := MinRecordingBytes(); got != 4096 {
		t.Errorf("MinRecordingBytes = %d", got)
	}
	if got := ServePort(); got != 5001 {
		t.Errorf("ServePort = %d", got)
	}
}

func TestOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set(KeyStrategy, "manual")
	viper.Set(KeyRecordLimit, "30s")

	if got := Strategy(); got != "manual" {
		t.Errorf("Strategy = %q", got)
	}
	if got := RecordLimit(); got != 30*time.Second {
		t.Errorf("RecordLimit = %v", got)
	}
}

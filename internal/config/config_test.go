package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "ENV", "REMINDER_OFFSETS", "FOLLOWUP_INTERVAL", "DELIVERY_POLICY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.ReminderPollInterval != 60*time.Second {
		t.Errorf("expected 60s poll interval, got %s", cfg.ReminderPollInterval)
	}
	want := []int{24, 12, 6, 3, 1}
	if len(cfg.ReminderOffsets) != len(want) {
		t.Fatalf("expected offsets %v, got %v", want, cfg.ReminderOffsets)
	}
	for i := range want {
		if cfg.ReminderOffsets[i] != want[i] {
			t.Errorf("offset[%d] = %d, want %d", i, cfg.ReminderOffsets[i], want[i])
		}
	}
	if cfg.DeliveryPolicy != "primary" {
		t.Errorf("expected primary policy, got %s", cfg.DeliveryPolicy)
	}
	if cfg.FollowUpInterval != 24*time.Hour {
		t.Errorf("expected 24h follow-up interval, got %s", cfg.FollowUpInterval)
	}
	if cfg.SNSRegion != cfg.AWSRegion {
		t.Errorf("SNS region should default to AWS region")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REMINDER_OFFSETS", "48, 2")
	t.Setenv("REMINDER_POLL_INTERVAL", "15s")
	t.Setenv("DELIVERY_POLICY", "any")
	t.Setenv("FOLLOWUP_INTERVAL", "0")
	t.Setenv("CHANNELS_MODE", "log")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if len(cfg.ReminderOffsets) != 2 || cfg.ReminderOffsets[0] != 48 || cfg.ReminderOffsets[1] != 2 {
		t.Errorf("unexpected offsets: %v", cfg.ReminderOffsets)
	}
	if cfg.ReminderPollInterval != 15*time.Second {
		t.Errorf("expected 15s, got %s", cfg.ReminderPollInterval)
	}
	if cfg.DeliveryPolicy != "any" {
		t.Errorf("expected any, got %s", cfg.DeliveryPolicy)
	}
	if cfg.FollowUpInterval != 0 {
		t.Errorf("expected follow-up timer disabled, got %s", cfg.FollowUpInterval)
	}
	if cfg.ChannelsMode != "log" {
		t.Errorf("expected log channels, got %s", cfg.ChannelsMode)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "abc"},
		{"REMINDER_OFFSETS", "24,-1"},
		{"REMINDER_OFFSETS", "x"},
		{"REMINDER_POLL_INTERVAL", "soon"},
		{"DELIVERY_POLICY", "all"},
		{"CHANNELS_MODE", "smtp"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

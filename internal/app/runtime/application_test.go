package runtime

import (
	"testing"

	"github.com/LoyaltyLabs/receipt_layer/internal/config"
)

func TestNewServerWithMemoryStore(t *testing.T) {
	cfg := config.Default()
	if _, err := NewServer(cfg); err != nil {
		t.Fatalf("default config should assemble: %v", err)
	}
}

func TestNewServerRejectsBadCleanupSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Tasks.CleanupSchedule = "not a schedule"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("invalid cron expression should be rejected")
	}
}

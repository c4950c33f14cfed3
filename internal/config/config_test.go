package config

import (
	"strings"
	"testing"
	"time"

	"github.com/example/commute-pool/internal/models"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OracleBackend != BackendOSRM {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if c, ok := cfg.Workplaces.Lookup("STIHL"); !ok || c != (models.Coord{Lat: 48.8315, Lon: 9.3095}) {
		t.Fatalf("default workplaces missing STIHL: %v", cfg.Workplaces)
	}
	if !cfg.RiderDirectRoutes {
		t.Fatalf("rider direct routes should default on")
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("ORACLE_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("WORKPLACES", "ACME=1.5,2.5")
	t.Setenv("RIDER_DIRECT_ROUTES", "false")
	t.Setenv("CANDIDATE_RADIUS_KM", "12.5")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OracleTimeout != 2*time.Second {
		t.Fatalf("expected 2s, got %s", cfg.OracleTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.Workplaces) != 1 || cfg.Workplaces["ACME"] != (models.Coord{Lat: 1.5, Lon: 2.5}) {
		t.Fatalf("unexpected workplaces %v", cfg.Workplaces)
	}
	if cfg.RiderDirectRoutes || cfg.CandidateRadiusKm != 12.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("ORACLE_BACKEND", "google")
	t.Setenv("ORACLE_TIMEOUT", "soon")
	t.Setenv("CANDIDATE_LIMIT", "0")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"ORACLE_TIMEOUT", "GOOGLE_MAPS_API_KEY", "CANDIDATE_LIMIT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestParseWorkplaces(t *testing.T) {
	reg, err := ParseWorkplaces(DefaultWorkplaces)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg) != 2 {
		t.Fatalf("expected 2 workplaces, got %d", len(reg))
	}

	for _, bad := range []string{"", "STIHL", "STIHL=1", "STIHL=x,1", "STIHL=91,0", "=1,2"} {
		if _, err := ParseWorkplaces(bad); err == nil {
			t.Errorf("ParseWorkplaces(%q): expected error", bad)
		}
	}
}

func TestLoadConsumerConfigRequiresDSN(t *testing.T) {
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatalf("expected error without PG_DSN")
	}
	t.Setenv("PG_DSN", "postgres://localhost/pool")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KafkaTopic != "ride-events" || cfg.RetryAttempts != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

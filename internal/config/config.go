package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/commute-pool/internal/models"
)

const (
	BackendOSRM   = "osrm"
	BackendGoogle = "google"
)

// DefaultWorkplaces is used when WORKPLACES is not set.
const DefaultWorkplaces = "STIHL=48.8315,9.3095;MERCEDES=48.7833,9.2250"

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults so the binary
// runs locally against the public OSRM demo server.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	OracleBackend     string
	OSRMEndpoint      string
	OSRMProfile       string
	OSRMAccessToken   string
	GoogleMapsAPIKey  string
	OracleTimeout     time.Duration
	OracleCacheTTL    time.Duration
	RiderDirectRoutes bool

	Workplaces models.WorkplaceRegistry

	CandidateRadiusKm float64
	CandidateLimit    int
	ScoreConcurrency  int

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	WebhookURL string

	PGDSN string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		OracleBackend:     BackendOSRM,
		OSRMEndpoint:      "https://router.project-osrm.org",
		OSRMProfile:       "driving",
		OracleTimeout:     5 * time.Second,
		OracleCacheTTL:    5 * time.Minute,
		RiderDirectRoutes: true,
		CandidateLimit:    50,
		ScoreConcurrency:  4,
		RedisGeoKey:       "riders_geo",
		KafkaTopic:        "ride-events",
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.OracleBackend, "ORACLE_BACKEND")
	cfg.OracleBackend = strings.ToLower(cfg.OracleBackend)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.OSRMProfile, "OSRM_PROFILE")
	cfg.OSRMAccessToken = os.Getenv("MAPBOX_ACCESS_TOKEN")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	setDurationFromEnv(&cfg.OracleTimeout, "ORACLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OracleCacheTTL, "ORACLE_CACHE_TTL", &errs)
	setBoolFromEnv(&cfg.RiderDirectRoutes, "RIDER_DIRECT_ROUTES", &errs)

	workplaces := DefaultWorkplaces
	setStringFromEnv(&workplaces, "WORKPLACES")
	reg, err := ParseWorkplaces(workplaces)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid WORKPLACES: %w", err))
	}
	cfg.Workplaces = reg

	setFloatFromEnv(&cfg.CandidateRadiusKm, "CANDIDATE_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "CANDIDATE_LIMIT", &errs)
	setIntFromEnv(&cfg.ScoreConcurrency, "SCORE_CONCURRENCY", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.OracleBackend {
	case BackendOSRM:
		if cfg.OSRMEndpoint == "" {
			errs = append(errs, errors.New("OSRM_ENDPOINT must be set for the osrm backend"))
		}
	case BackendGoogle:
		if cfg.GoogleMapsAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_MAPS_API_KEY must be set for the google backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ORACLE_BACKEND must be %q or %q", BackendOSRM, BackendGoogle))
	}
	if cfg.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.ScoreConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("SCORE_CONCURRENCY must be > 0"))
	}
	if cfg.CandidateRadiusKm < 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_RADIUS_KM must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the ride-event audit consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	PGDSN         string
	RetryAttempts int
	RetryDelay    time.Duration
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "ride-events",
		KafkaGroup:    "commute-pool-audit",
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
		LogLevel:      "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setIntFromEnv(&cfg.RetryAttempts, "STORE_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "STORE_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.PGDSN == "" {
		errs = append(errs, errors.New("PG_DSN is required"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("STORE_RETRY_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// ParseWorkplaces parses "NAME=lat,lon;NAME=lat,lon".
func ParseWorkplaces(v string) (models.WorkplaceRegistry, error) {
	reg := models.WorkplaceRegistry{}
	for _, entry := range strings.Split(v, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, coord, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("entry %q: want NAME=lat,lon", entry)
		}
		latS, lonS, ok := strings.Cut(coord, ",")
		if !ok {
			return nil, fmt.Errorf("entry %q: want NAME=lat,lon", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: latitude: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: longitude: %w", entry, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("entry %q: coordinate out of range", entry)
		}
		reg[name] = models.Coord{Lat: lat, Lon: lon}
	}
	if len(reg) == 0 {
		return nil, errors.New("no workplaces configured")
	}
	return reg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	FFmpegPath  string
	FFprobePath string

	// Sources is "name=path" pairs, comma separated. DefaultSource selects
	// which one the scheduler plays.
	Sources       map[string]string
	DefaultSource string

	FallbackDuration float64 // seconds, used when probing fails

	MaxConcurrent  int
	ExtractTimeout time.Duration
	KillGrace      time.Duration

	MaxRetries    int
	RetryBase     time.Duration
	RetryCap      time.Duration
	SizeTolerance float64

	MaxConsecutiveErrors int
	MemoryLimitMB        int
	UpgradeWindow        int

	StaleAfter    time.Duration
	SweepInterval time.Duration
	ShutdownGrace time.Duration

	DataDir        string
	JournalEnabled bool
}

func Load() (*Config, error) {
	port, err := atoiEnv("PORT", "7800")
	if err != nil {
		return nil, err
	}
	maxConcurrent, err := atoiEnv("MAX_CONCURRENT", "2")
	if err != nil {
		return nil, err
	}
	extractTimeoutSec, err := atoiEnv("EXTRACT_TIMEOUT_SEC", "10")
	if err != nil {
		return nil, err
	}
	killGraceSec, err := atoiEnv("KILL_GRACE_SEC", "3")
	if err != nil {
		return nil, err
	}
	maxRetries, err := atoiEnv("MAX_RETRIES", "3")
	if err != nil {
		return nil, err
	}
	retryBaseMs, err := atoiEnv("RETRY_BASE_MS", "250")
	if err != nil {
		return nil, err
	}
	retryCapMs, err := atoiEnv("RETRY_CAP_MS", "5000")
	if err != nil {
		return nil, err
	}
	maxConsecutiveErrors, err := atoiEnv("MAX_CONSECUTIVE_ERRORS", "5")
	if err != nil {
		return nil, err
	}
	memoryLimitMB, err := atoiEnv("MEMORY_LIMIT_MB", "512")
	if err != nil {
		return nil, err
	}
	upgradeWindow, err := atoiEnv("UPGRADE_WINDOW", "25")
	if err != nil {
		return nil, err
	}
	staleAfterSec, err := atoiEnv("STALE_AFTER_SEC", "60")
	if err != nil {
		return nil, err
	}
	sweepIntervalSec, err := atoiEnv("SWEEP_INTERVAL_SEC", "30")
	if err != nil {
		return nil, err
	}
	shutdownGraceSec, err := atoiEnv("SHUTDOWN_GRACE_SEC", "10")
	if err != nil {
		return nil, err
	}

	fallbackDuration, err := strconv.ParseFloat(getEnv("FALLBACK_DURATION_SEC", "60"), 64)
	if err != nil || fallbackDuration <= 0 {
		return nil, fmt.Errorf("invalid FALLBACK_DURATION_SEC")
	}
	sizeTolerance, err := strconv.ParseFloat(getEnv("SIZE_TOLERANCE", "0.10"), 64)
	if err != nil || sizeTolerance < 0 || sizeTolerance >= 1 {
		return nil, fmt.Errorf("invalid SIZE_TOLERANCE")
	}

	sources, err := parseSources(getEnv("SOURCES", "default=/data/video.mp4"))
	if err != nil {
		return nil, err
	}
	defaultSource := getEnv("DEFAULT_SOURCE", "")
	if defaultSource == "" {
		// Single configured source selects itself.
		if len(sources) == 1 {
			for name := range sources {
				defaultSource = name
			}
		} else {
			defaultSource = "default"
		}
	}
	if _, ok := sources[defaultSource]; !ok {
		return nil, fmt.Errorf("DEFAULT_SOURCE %q not present in SOURCES", defaultSource)
	}

	return &Config{
		Port:                 port,
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          getEnv("FFPROBE_PATH", "ffprobe"),
		Sources:              sources,
		DefaultSource:        defaultSource,
		FallbackDuration:     fallbackDuration,
		MaxConcurrent:        maxConcurrent,
		ExtractTimeout:       time.Duration(extractTimeoutSec) * time.Second,
		KillGrace:            time.Duration(killGraceSec) * time.Second,
		MaxRetries:           maxRetries,
		RetryBase:            time.Duration(retryBaseMs) * time.Millisecond,
		RetryCap:             time.Duration(retryCapMs) * time.Millisecond,
		SizeTolerance:        sizeTolerance,
		MaxConsecutiveErrors: maxConsecutiveErrors,
		MemoryLimitMB:        memoryLimitMB,
		UpgradeWindow:        upgradeWindow,
		StaleAfter:           time.Duration(staleAfterSec) * time.Second,
		SweepInterval:        time.Duration(sweepIntervalSec) * time.Second,
		ShutdownGrace:        time.Duration(shutdownGraceSec) * time.Second,
		DataDir:              getEnv("DATA_DIR", "/data"),
		JournalEnabled:       getEnv("JOURNAL", "on") != "off",
	}, nil
}

func parseSources(raw string) (map[string]string, error) {
	sources := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, path, ok := strings.Cut(pair, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid SOURCES entry %q, want name=path", pair)
		}
		sources[name] = path
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("SOURCES must configure at least one source")
	}
	return sources, nil
}

func atoiEnv(key, defaultValue string) (int, error) {
	v, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

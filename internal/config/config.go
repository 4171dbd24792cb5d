package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the softphone configuration
type Config struct {
	SetupURL   string
	APIKey     string
	LocalID    string
	LocalName  string
	DeviceID   string
	ICEServers []string

	RingTimeout time.Duration
	LogLevel    string
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	var iceServer string
	flag.StringVar(&cfg.SetupURL, "setup-url", "http://localhost:8080", "Call-setup API base URL")
	flag.StringVar(&cfg.APIKey, "api-key", "", "Call-setup API key")
	flag.StringVar(&cfg.LocalID, "id", "", "Local account id")
	flag.StringVar(&cfg.LocalName, "name", "", "Local display name")
	flag.StringVar(&cfg.DeviceID, "device", "", "Device identifier for published events")
	flag.StringVar(&iceServer, "ice-server", "stun:stun.l.google.com:19302", "STUN/TURN server URL")
	flag.DurationVar(&cfg.RingTimeout, "ring-timeout", 60*time.Second, "How long an incoming call may ring")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level")

	flag.Parse()

	// Environment overrides
	if v := os.Getenv("SETUP_URL"); v != "" {
		cfg.SetupURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LOCAL_ID"); v != "" {
		cfg.LocalID = v
	}
	if v := os.Getenv("LOCAL_NAME"); v != "" {
		cfg.LocalName = v
	}
	if v := os.Getenv("DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv("ICE_SERVER"); v != "" {
		iceServer = v
	}
	if v := os.Getenv("RING_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RingTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if iceServer != "" {
		cfg.ICEServers = []string{iceServer}
	}
	return cfg
}

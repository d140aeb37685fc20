// Package config loads the Presence Core's runtime configuration from
// defaults, then environment variables, then command-line flags, each
// layer overriding the one before it — the same precedence chain the
// teacher's HD1Config uses, trimmed to the fields a presence core reads.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// WebSocketConfig holds the reliable client sink's timing and buffer knobs.
type WebSocketConfig struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
}

// RegionConfig bounds the values the Motion Controller and Parcel
// Visibility Engine clamp against, and the path to the static
// telehub/landing-point YAML file (§9 supplemented feature).
type RegionConfig struct {
	MinDrawDistance    float64
	MaxDrawDistance    float64
	MinRegionView      float64
	MaxRegionView      float64
	LegacySitOffset    bool
	TelehubConfigFile  string
}

// ScheduleConfig holds the Update Scheduler's cadence and significance
// thresholds (spec.md §4.7).
type ScheduleConfig struct {
	ChildUpdateDistanceSq float64
	ChildUpdatePeriod     time.Duration
	ReprioritiseInterval  time.Duration
	ReprioritiseGrace     time.Duration
}

// TransitConfig holds the Transit Coordinator's peer-handshake retry
// policy (spec.md §4.2).
type TransitConfig struct {
	HandshakeRetries int
	HandshakeBackoff time.Duration
}

// GridConfig holds the HMAC secret used to sign/verify neighbour bearer
// tokens (§6, §9 — grid.NeighbourClaims).
type GridConfig struct {
	BearerSecret string
}

// PresenceConfig is the root configuration object for presenced.
type PresenceConfig struct {
	Host    string
	Port    string
	LogDir  string
	LogLevel string

	WebSocket WebSocketConfig
	Region    RegionConfig
	Schedule  ScheduleConfig
	Transit   TransitConfig
	Grid      GridConfig
}

// Global is the process-wide configuration, set by Initialize.
var Global *PresenceConfig

// Initialize builds a PresenceConfig by layering defaults, then
// environment variables, then flags, and validates the result. Mirrors
// the teacher's Initialize -> loadDefaults -> loadEnvironmentVariables ->
// loadFlags -> validate sequence.
func Initialize() (*PresenceConfig, error) {
	c := loadDefaults()
	loadEnvironmentVariables(c)
	loadFlags(c)
	if err := c.validate(); err != nil {
		return nil, err
	}
	Global = c
	return c, nil
}

func loadDefaults() *PresenceConfig {
	return &PresenceConfig{
		Host:     "0.0.0.0",
		Port:     "9000",
		LogDir:   "/var/log/presencecore",
		LogLevel: "INFO",
		WebSocket: WebSocketConfig{
			WriteTimeout:    10 * time.Second,
			PongTimeout:     60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxMessageSize:  65536,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		Region: RegionConfig{
			MinDrawDistance:   32,
			MaxDrawDistance:   512,
			MinRegionView:     32,
			MaxRegionView:     512,
			LegacySitOffset:   false,
			TelehubConfigFile: "/etc/presencecore/telehubs.yaml",
		},
		Schedule: ScheduleConfig{
			ChildUpdateDistanceSq: 100,
			ChildUpdatePeriod:     10000 * time.Millisecond,
			ReprioritiseInterval:  1 * time.Second,
			ReprioritiseGrace:     15000 * time.Millisecond,
		},
		Transit: TransitConfig{
			HandshakeRetries: 50,
			HandshakeBackoff: 200 * time.Millisecond,
		},
		Grid: GridConfig{
			BearerSecret: "",
		},
	}
}

func loadEnvironmentVariables(c *PresenceConfig) {
	if v := os.Getenv("PRESENCECORE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PRESENCECORE_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("PRESENCECORE_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("PRESENCECORE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PRESENCECORE_WS_WRITE_TIMEOUT"); v != "" {
		setDuration(&c.WebSocket.WriteTimeout, v)
	}
	if v := os.Getenv("PRESENCECORE_WS_PONG_TIMEOUT"); v != "" {
		setDuration(&c.WebSocket.PongTimeout, v)
	}
	if v := os.Getenv("PRESENCECORE_WS_PING_PERIOD"); v != "" {
		setDuration(&c.WebSocket.PingPeriod, v)
	}
	if v := os.Getenv("PRESENCECORE_WS_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageSize = n
		}
	}
	if v := os.Getenv("PRESENCECORE_MIN_DRAW_DISTANCE"); v != "" {
		setFloat(&c.Region.MinDrawDistance, v)
	}
	if v := os.Getenv("PRESENCECORE_MAX_DRAW_DISTANCE"); v != "" {
		setFloat(&c.Region.MaxDrawDistance, v)
	}
	if v := os.Getenv("PRESENCECORE_MIN_REGION_VIEW"); v != "" {
		setFloat(&c.Region.MinRegionView, v)
	}
	if v := os.Getenv("PRESENCECORE_MAX_REGION_VIEW"); v != "" {
		setFloat(&c.Region.MaxRegionView, v)
	}
	if v := os.Getenv("PRESENCECORE_LEGACY_SIT_OFFSET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Region.LegacySitOffset = b
		}
	}
	if v := os.Getenv("PRESENCECORE_TELEHUB_CONFIG"); v != "" {
		c.Region.TelehubConfigFile = v
	}
	if v := os.Getenv("PRESENCECORE_CHILD_UPDATE_PERIOD"); v != "" {
		setDuration(&c.Schedule.ChildUpdatePeriod, v)
	}
	if v := os.Getenv("PRESENCECORE_REPRIORITISE_INTERVAL"); v != "" {
		setDuration(&c.Schedule.ReprioritiseInterval, v)
	}
	if v := os.Getenv("PRESENCECORE_HANDSHAKE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transit.HandshakeRetries = n
		}
	}
	if v := os.Getenv("PRESENCECORE_HANDSHAKE_BACKOFF"); v != "" {
		setDuration(&c.Transit.HandshakeBackoff, v)
	}
	if v := os.Getenv("PRESENCECORE_GRID_BEARER_SECRET"); v != "" {
		c.Grid.BearerSecret = v
	}
}

func loadFlags(c *PresenceConfig) {
	if flag.Parsed() {
		return
	}
	host := flag.String("host", c.Host, "bind host")
	port := flag.String("port", c.Port, "bind port")
	logDir := flag.String("log-dir", c.LogDir, "log directory")
	logLevel := flag.String("log-level", c.LogLevel, "log level (TRACE|DEBUG|INFO|WARN|ERROR|FATAL)")
	telehubConfig := flag.String("telehub-config", c.Region.TelehubConfigFile, "path to telehub/landing-point YAML config")
	maxDrawDistance := flag.Float64("max-draw-distance", c.Region.MaxDrawDistance, "maximum draw distance in meters")
	gridSecret := flag.String("grid-bearer-secret", c.Grid.BearerSecret, "HMAC secret for neighbour bearer tokens")

	flag.Parse()

	c.Host = *host
	c.Port = *port
	c.LogDir = *logDir
	c.LogLevel = *logLevel
	c.Region.TelehubConfigFile = *telehubConfig
	c.Region.MaxDrawDistance = *maxDrawDistance
	c.Grid.BearerSecret = *gridSecret
}

func (c *PresenceConfig) validate() error {
	if c.Region.MinDrawDistance <= 0 || c.Region.MaxDrawDistance < c.Region.MinDrawDistance {
		return fmt.Errorf("invalid draw distance bounds: min=%v max=%v", c.Region.MinDrawDistance, c.Region.MaxDrawDistance)
	}
	if c.Region.MinRegionView <= 0 || c.Region.MaxRegionView < c.Region.MinRegionView {
		return fmt.Errorf("invalid region-view bounds: min=%v max=%v", c.Region.MinRegionView, c.Region.MaxRegionView)
	}
	if c.Transit.HandshakeRetries <= 0 {
		return fmt.Errorf("handshake retries must be positive: %d", c.Transit.HandshakeRetries)
	}
	return nil
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// Package config holds the relay's runtime settings, their defaults and the
// environment overlay used by the server and client binaries.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 44451
	DefaultReadBuffer   = 1024
	DefaultSendQueue    = 64
	DefaultHTTPAddr     = ":9090"
	DefaultRedisChannel = "relay:broadcast"
	DefaultLogLevel     = "info"
	DefaultGreeting     = "You are connected to the server!"
)

// Config holds the server settings. Zero durations disable the matching
// deadline; an empty HTTPAddr or RedisAddr disables that component.
type Config struct {
	Host         string
	Port         int
	ReadBuffer   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendQueue    int
	Greeting     string

	HTTPAddr  string
	WebSocket bool
	// WSOrigins restricts the Origin header of WebSocket peers; empty allows any.
	WSOrigins []string

	RedisAddr    string
	RedisChannel string

	LogLevel string
}

// Default returns the settings the relay runs with when nothing is configured.
func Default() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		ReadBuffer:   DefaultReadBuffer,
		SendQueue:    DefaultSendQueue,
		Greeting:     DefaultGreeting,
		HTTPAddr:     DefaultHTTPAddr,
		RedisChannel: DefaultRedisChannel,
		LogLevel:     DefaultLogLevel,
	}
}

// FromEnv overlays RELAY_* environment variables on the defaults.
// Unparseable values keep the default.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("RELAY_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		cfg.Port = parsePort(v, cfg.Port)
	}
	if v := os.Getenv("RELAY_READ_BUFFER"); v != "" {
		cfg.ReadBuffer = parsePositive(v, cfg.ReadBuffer)
	}
	if v := os.Getenv("RELAY_READ_TIMEOUT"); v != "" {
		cfg.ReadTimeout = parseDuration(v, cfg.ReadTimeout)
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("RELAY_SEND_QUEUE"); v != "" {
		cfg.SendQueue = parsePositive(v, cfg.SendQueue)
	}
	if v, ok := os.LookupEnv("RELAY_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RELAY_WEBSOCKET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WebSocket = b
		}
	}
	if v := os.Getenv("RELAY_WS_ORIGINS"); v != "" {
		cfg.WSOrigins = SplitList(v)
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RELAY_REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}

	return cfg
}

// Sanitize replaces out-of-range values with defaults.
func (c Config) Sanitize() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port < 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = DefaultReadBuffer
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.RedisChannel == "" {
		c.RedisChannel = DefaultRedisChannel
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return c
}

// Addr is the TCP listen address, host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientTarget is the address the interactive client dials by default:
// RELAY_HOST and RELAY_PORT when set, otherwise 127.0.0.1 on the default port.
func ClientTarget() (string, int) {
	host := strings.TrimSpace(os.Getenv("RELAY_HOST"))
	if host == "" {
		host = "127.0.0.1"
	}
	return host, FromEnv().Port
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parsePort(value string, def int) int {
	p, err := strconv.Atoi(value)
	if err != nil || p < 0 || p > 65535 {
		return def
	}
	return p
}

func parsePositive(value string, def int) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// parseDuration accepts Go durations ("5s") or plain seconds ("5").
func parseDuration(value string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

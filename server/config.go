package server

import "time"

type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderSize  int
	MaxBodySize    int64
	MaxConnections int
	SessionCookie  string
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	StaticDir      string
	ServerName     string
	EnableLogging  bool
	Debug          bool
}

func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderSize:  8192,
		MaxBodySize:    10 * 1024 * 1024, // 10MB
		MaxConnections: 1024,
		SessionCookie:  "sid",
		SessionTTL:     24 * time.Hour,
		SweepInterval:  10 * time.Minute,
		StaticDir:      "public",
		ServerName:     "magicserver/0.2",
		EnableLogging:  true,
		Debug:          false,
	}
}

// limits returns the framing limits derived from the config
func (c *Config) limits() Limits {
	return Limits{
		MaxHeaderSize: c.MaxHeaderSize,
		MaxBodySize:   c.MaxBodySize,
	}
}

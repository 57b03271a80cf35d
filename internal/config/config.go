package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBatchInterval = time.Hour
	defaultFollowPeriod  = 12 * time.Hour
	defaultFollowerLimit = 1000
	defaultBaseURL       = "https://api.twitter.com/1.1"
	defaultHTTPTimeout   = 60 * time.Second
	defaultHTTPRetries   = 3
	defaultLogFormat     = "text"
	defaultStatsBufSize  = 128

	defaultSearchQuota   = "180/15m"
	defaultFollowQuota   = "200/4h"
	defaultUnfollowQuota = "100/4h"
)

// Quota is a number of calls allowed within a trailing window.
type Quota struct {
	Limit  int
	Window time.Duration
}

func (q Quota) String() string {
	return fmt.Sprintf("%d/%s", q.Limit, q.Window)
}

// ParseQuota parses "<limit>/<duration>", e.g. "180/15m".
func ParseQuota(s string) (Quota, error) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Quota{}, fmt.Errorf("quota %q is not of the form <limit>/<duration>", s)
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return Quota{}, fmt.Errorf("quota %q has an invalid limit", s)
	}
	window, err := time.ParseDuration(windowStr)
	if err != nil || window <= 0 {
		return Quota{}, fmt.Errorf("quota %q has an invalid window", s)
	}
	return Quota{Limit: limit, Window: window}, nil
}

// Credentials of the Twitter account the worker acts as.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Config is the validated configuration of the worker.
type Config struct {
	SearchQuery   string
	BatchInterval time.Duration
	BatchQuantity int
	FollowPeriod  time.Duration
	FollowerLimit int
	ExcludeUsers  []string

	Twitter Credentials

	LogLevel       logrus.Level
	LogFormat      string
	DataDir        string
	StatsBufSize   uint
	APIBaseURL     string
	HTTPTimeout    time.Duration
	HTTPMaxRetries uint

	SearchQuota   Quota
	FollowQuota   Quota
	UnfollowQuota Quota
}

// IsExcluded reports whether id is on the EXCLUDE_USERS list.
func (c *Config) IsExcluded(id string) bool {
	for _, excluded := range c.ExcludeUsers {
		if excluded == id {
			return true
		}
	}
	return false
}

// SetupLogging applies the configured log level and format to logrus.
func (c *Config) SetupLogging() {
	SetLogLevel(c.LogLevel)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// ParseLogLevel parses a string and returns the corresponding logrus.Level.
func ParseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		logrus.Errorf("Invalid log level %q, setting to %s", logLevel, logrus.InfoLevel)
		return logrus.InfoLevel
	}
}

// SetLogLevel sets the log level for the application.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

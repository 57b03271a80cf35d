package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	positiveIntRe = regexp.MustCompile(`^0*[1-9]\d*$`)
	digitsRe      = regexp.MustCompile(`^\d+$`)
	idListRe      = regexp.MustCompile(`^(\d+(,\d+)*)?$`)
)

// env is the raw environment, validated before it is converted into a Config.
type env struct {
	SearchQuery   string `env:"SEARCH_QUERY" validate:"required"`
	BatchInterval string `env:"BATCH_INTERVAL" validate:"positive_int"`
	BatchQuantity string `env:"BATCH_QUANTITY" validate:"required,positive_int"`
	FollowPeriod  string `env:"FOLLOW_PERIOD" validate:"positive_int"`
	FollowerLimit string `env:"FOLLOWER_LIMIT" validate:"positive_int"`
	ExcludeUsers  string `env:"EXCLUDE_USERS" validate:"id_list"`

	ConsumerKey    string `env:"TWITTER_CONSUMER_KEY" validate:"min=20,max=35"`
	ConsumerSecret string `env:"TWITTER_CONSUMER_SECRET" validate:"min=45,max=60"`
	AccessToken    string `env:"TWITTER_ACCESS_TOKEN_KEY" validate:"min=45,max=60"`
	AccessSecret   string `env:"TWITTER_ACCESS_TOKEN_SECRET" validate:"min=40,max=55"`

	LogLevel       string `env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string `env:"LOG_FORMAT" validate:"oneof=text json"`
	DataDir        string `env:"DATA_DIR" validate:"required"`
	StatsBufSize   string `env:"STATS_BUF_SIZE" validate:"digits"`
	APIBaseURL     string `env:"TWITTER_API_BASE_URL" validate:"required,url"`
	HTTPTimeout    string `env:"HTTP_TIMEOUT_SECONDS" validate:"positive_int"`
	HTTPMaxRetries string `env:"HTTP_MAX_RETRIES" validate:"digits"`

	SearchQuota   string `env:"QUOTA_SEARCH" validate:"quota"`
	FollowQuota   string `env:"QUOTA_FOLLOW" validate:"quota"`
	UnfollowQuota string `env:"QUOTA_UNFOLLOW" validate:"quota"`
}

// Loader reads the env file once and hands out the resulting Config.
type Loader struct {
	mu       sync.Mutex
	path     string
	cfg      *Config
	lookup   func(string) (string, bool)
	validate *validator.Validate
}

type LoaderOption func(*Loader)

// WithLookup replaces os.LookupEnv as the source of process variables.
func WithLookup(lookup func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		l.lookup = lookup
	}
}

// NewLoader returns a loader reading from ENV_PATH, or $HOME/.syfol when unset.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	if p, ok := l.lookup("ENV_PATH"); ok && p != "" {
		l.path = p
	} else {
		l.path = filepath.Join(homeDir(l.lookup), ".syfol")
	}
	l.validate = newValidator()
	return l
}

// Path returns the env file the loader reads.
func (l *Loader) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// SetPath changes the env file. It fails once the configuration is loaded.
func (l *Loader) SetPath(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg != nil {
		return ErrAlreadyLoaded
	}
	l.path = path
	return nil
}

// Load reads and validates the configuration on the first successful call and
// returns the same Config afterwards. Process variables take precedence over
// the env file. A missing env file is not an error.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg != nil {
		return l.cfg, nil
	}

	logrus.Debugf("Loading environment variables from '%s'", l.path)
	file, err := godotenv.Read(l.path)
	if err != nil {
		logrus.WithError(err).Infof("Failed to load %s, reading from environment variables", l.path)
		file = map[string]string{}
	} else {
		logrus.Debug("Loaded successfully from file")
	}

	get := func(key, def string) string {
		if v, ok := l.lookup(key); ok && v != "" {
			return v
		}
		if v := file[key]; v != "" {
			return v
		}
		return def
	}

	raw := env{
		SearchQuery:    get("SEARCH_QUERY", ""),
		BatchInterval:  get("BATCH_INTERVAL", strconv.FormatInt(defaultBatchInterval.Milliseconds(), 10)),
		BatchQuantity:  get("BATCH_QUANTITY", ""),
		FollowPeriod:   get("FOLLOW_PERIOD", strconv.FormatInt(defaultFollowPeriod.Milliseconds(), 10)),
		FollowerLimit:  get("FOLLOWER_LIMIT", strconv.Itoa(defaultFollowerLimit)),
		ExcludeUsers:   get("EXCLUDE_USERS", ""),
		ConsumerKey:    get("TWITTER_CONSUMER_KEY", ""),
		ConsumerSecret: get("TWITTER_CONSUMER_SECRET", ""),
		AccessToken:    get("TWITTER_ACCESS_TOKEN_KEY", ""),
		AccessSecret:   get("TWITTER_ACCESS_TOKEN_SECRET", ""),
		LogLevel:       strings.ToLower(get("LOG_LEVEL", "")),
		LogFormat:      strings.ToLower(get("LOG_FORMAT", defaultLogFormat)),
		DataDir:        get("DATA_DIR", filepath.Join(homeDir(l.lookup), ".syfol.d")),
		StatsBufSize:   get("STATS_BUF_SIZE", strconv.Itoa(defaultStatsBufSize)),
		APIBaseURL:     get("TWITTER_API_BASE_URL", defaultBaseURL),
		HTTPTimeout:    get("HTTP_TIMEOUT_SECONDS", strconv.Itoa(int(defaultHTTPTimeout.Seconds()))),
		HTTPMaxRetries: get("HTTP_MAX_RETRIES", strconv.Itoa(defaultHTTPRetries)),
		SearchQuota:    get("QUOTA_SEARCH", defaultSearchQuota),
		FollowQuota:    get("QUOTA_FOLLOW", defaultFollowQuota),
		UnfollowQuota:  get("QUOTA_UNFOLLOW", defaultUnfollowQuota),
	}

	logrus.Debug("Checking environment variables")
	if err := l.validate.Struct(raw); err != nil {
		return nil, describe(err)
	}

	cfg, err := raw.convert()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	logrus.Debug("Environment variables are valid")

	l.cfg = cfg
	return cfg, nil
}

func (e env) convert() (*Config, error) {
	var err error
	num := func(key, s string) int64 {
		if err != nil {
			return 0
		}
		n, perr := strconv.ParseInt(s, 10, 64)
		if perr != nil {
			err = fmt.Errorf("%s is out of range", key)
		}
		return n
	}
	// dur converts s units to a Duration, rejecting values that overflow it.
	dur := func(key, s string, unit time.Duration) time.Duration {
		n := num(key, s)
		if err == nil && n > math.MaxInt64/int64(unit) {
			err = fmt.Errorf("%s is out of range", key)
			return 0
		}
		return time.Duration(n) * unit
	}
	quota := func(s string) Quota {
		if err != nil {
			return Quota{}
		}
		var q Quota
		q, err = ParseQuota(s)
		return q
	}

	cfg := &Config{
		SearchQuery:   e.SearchQuery,
		BatchInterval: dur("BATCH_INTERVAL", e.BatchInterval, time.Millisecond),
		BatchQuantity: int(num("BATCH_QUANTITY", e.BatchQuantity)),
		FollowPeriod:  dur("FOLLOW_PERIOD", e.FollowPeriod, time.Millisecond),
		FollowerLimit: int(num("FOLLOWER_LIMIT", e.FollowerLimit)),
		Twitter: Credentials{
			ConsumerKey:    e.ConsumerKey,
			ConsumerSecret: e.ConsumerSecret,
			AccessToken:    e.AccessToken,
			AccessSecret:   e.AccessSecret,
		},
		LogLevel:       ParseLogLevel(e.LogLevel),
		LogFormat:      e.LogFormat,
		DataDir:        e.DataDir,
		StatsBufSize:   uint(num("STATS_BUF_SIZE", e.StatsBufSize)),
		APIBaseURL:     e.APIBaseURL,
		HTTPTimeout:    dur("HTTP_TIMEOUT_SECONDS", e.HTTPTimeout, time.Second),
		HTTPMaxRetries: uint(num("HTTP_MAX_RETRIES", e.HTTPMaxRetries)),
		SearchQuota:    quota(e.SearchQuota),
		FollowQuota:    quota(e.FollowQuota),
		UnfollowQuota:  quota(e.UnfollowQuota),
	}
	if err != nil {
		return nil, err
	}
	if e.ExcludeUsers != "" {
		cfg.ExcludeUsers = strings.Split(e.ExcludeUsers, ",")
	}
	return cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	mustRegister(v, "positive_int", func(fl validator.FieldLevel) bool {
		return positiveIntRe.MatchString(fl.Field().String())
	})
	mustRegister(v, "digits", func(fl validator.FieldLevel) bool {
		return digitsRe.MatchString(fl.Field().String())
	})
	mustRegister(v, "id_list", func(fl validator.FieldLevel) bool {
		return idListRe.MatchString(fl.Field().String())
	})
	mustRegister(v, "quota", func(fl validator.FieldLevel) bool {
		_, err := ParseQuota(fl.Field().String())
		return err == nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register validation %s: %v", tag, err))
	}
}

// describe lists the offending keys without echoing their values, which may be secrets.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
}

func homeDir(lookup func(string) (string, bool)) string {
	if home, ok := lookup("HOME"); ok && home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

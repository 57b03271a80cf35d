package client

import "time"

const defaultBaseURL = "https://api.twitter.com/1.1"

type Options struct {
	BaseURL             string
	Timeout             time.Duration
	MaxRetries          uint64
	InitialInterval     time.Duration
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	MaxIdleConns        int
	IdleConnTimeout     time.Duration
}

type Option func(*Options) error

// BaseURL sets the API root every endpoint is resolved against.
func BaseURL(url string) Option {
	return func(o *Options) error {
		o.BaseURL = url
		return nil
	}
}

func Timeout(timeout time.Duration) Option {
	return func(o *Options) error {
		o.Timeout = timeout
		return nil
	}
}

// MaxRetries sets how many times a GET request is re-sent after a transport error or a 5xx response. The default is 3.
func MaxRetries(retries uint) Option {
	return func(o *Options) error {
		o.MaxRetries = uint64(retries)
		return nil
	}
}

// InitialInterval sets the first backoff delay between retries. The default is 500ms.
func InitialInterval(d time.Duration) Option {
	return func(o *Options) error {
		o.InitialInterval = d
		return nil
	}
}

// MaxConnsPerHost sets the maximum number of connections per host (in all states) in the connection pool. The default is 100.
func MaxConnsPerHost(conns uint) Option {
	return func(o *Options) error {
		o.MaxConnsPerHost = int(conns)
		return nil
	}
}

// MaxIdleConnsPerHost sets the maximum number of idle connections per host in the connection pool. The default is 10.
func MaxIdleConnsPerHost(conns uint) Option {
	return func(o *Options) error {
		o.MaxIdleConnsPerHost = int(conns)
		return nil
	}
}

// MaxIdleConns sets the maximum number of idle connections in the connection pool. The default is 100.
func MaxIdleConns(conns uint) Option {
	return func(o *Options) error {
		o.MaxIdleConns = int(conns)
		return nil
	}
}

// IdleConnTimeout sets the timeout before an idle connection pool connection closes itself. The default is 2 minutes.
func IdleConnTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		o.IdleConnTimeout = timeout
		return nil
	}
}

func NewOptions(opts ...Option) (*Options, error) {
	o := &Options{
		BaseURL:             defaultBaseURL,
		Timeout:             1 * time.Minute,
		MaxRetries:          3,
		InitialInterval:     500 * time.Millisecond,
		MaxConnsPerHost:     100,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     2 * time.Minute,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

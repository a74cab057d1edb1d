package fetch

import "time"

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Options configures an HTTPFetcher. Per-call deadlines come from the
// context; Timeout is the client-wide ceiling.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// OptionsFromConfig builds Options from millisecond-based config values.
func OptionsFromConfig(userAgent string, timeoutMs int, maxBodyBytes int64) Options {
	var timeout time.Duration
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return Options{
		UserAgent:    userAgent,
		Timeout:      timeout,
		MaxBodyBytes: maxBodyBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	return o
}

package registry

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	logger "github.com/sirupsen/logrus"
)

// RetryConfig bounds retries for registry requests.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// NewHTTPClient returns a retrying client that retries network errors, 429 and
// 5xx responses with exponential backoff. After the last attempt the final
// response is handed back to the caller instead of an opaque error.
func NewHTTPClient(cfg RetryConfig) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	c.RetryMax = cfg.MaxRetries
	c.RetryWaitMin = cfg.BaseDelay
	c.RetryWaitMax = cfg.MaxDelay
	c.Backoff = retryablehttp.DefaultBackoff
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = LeveledLogger{Entry: logger.WithField("component", "http")}
	return c
}

// LeveledLogger adapts logrus to retryablehttp's leveled logger. Request
// chatter is kept at debug level.
type LeveledLogger struct {
	Entry *logger.Entry
}

func (l LeveledLogger) fields(kv []interface{}) *logger.Entry {
	e := l.Entry
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			e = e.WithField(k, kv[i+1])
		}
	}
	return e
}

func (l LeveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Warn(msg) }
func (l LeveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
func (l LeveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l LeveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }

package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/tidwall/gjson"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
)

// Kind is the retry class of an error.
type Kind string

const (
	KindNetwork   Kind = "network-error"
	KindRateLimit Kind = "rate-limit"
	KindServer    Kind = "server-error"
	KindUnknown   Kind = "unknown"
)

// Retryable reports whether errors of this kind are retried.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimit || k == KindServer
}

// Classification is the verdict on one error.
type Classification struct {
	Kind Kind
	// Wait is an explicit back-off hint; zero when the error carried none.
	Wait time.Duration
}

// Classifier decides whether an error is worth retrying.
type Classifier func(err error) Classification

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	HTTPStatus() int
}

// WaitHinter is implemented by errors that know how long to back off.
type WaitHinter interface {
	RetryAfter() time.Duration
}

// Classify is the default classifier.
func Classify(err error) Classification {
	if err == nil || errors.Is(err, context.Canceled) {
		return Classification{Kind: KindUnknown}
	}

	if e := syncerrors.AsError(err); e != nil {
		switch e.Code {
		case syncerrors.CodeNetwork:
			return Classification{Kind: KindNetwork}
		case syncerrors.CodeRateLimited:
			return Classification{Kind: KindRateLimit, Wait: waitHint(err)}
		case syncerrors.CodeServer:
			return Classification{Kind: KindServer}
		case syncerrors.CodeNonRetryable:
			return Classification{Kind: KindUnknown}
		}
	}

	var rle *gogithub.RateLimitError
	if errors.As(err, &rle) {
		var wait time.Duration
		if !rle.Rate.Reset.IsZero() {
			wait = time.Until(rle.Rate.Reset.Time)
		}
		return Classification{Kind: KindRateLimit, Wait: max(wait, 0)}
	}
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return Classification{Kind: KindRateLimit, Wait: abuse.GetRetryAfter()}
	}
	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return byStatus(ghErr.Response.StatusCode, err)
	}
	var se StatusError
	if errors.As(err, &se) {
		return byStatus(se.HTTPStatus(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return Classification{Kind: KindNetwork}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: KindNetwork}
	}

	return byMessage(err)
}

func byStatus(status int, err error) Classification {
	switch {
	case status == http.StatusTooManyRequests:
		return Classification{Kind: KindRateLimit, Wait: waitHint(err)}
	case status == http.StatusRequestTimeout:
		return Classification{Kind: KindNetwork}
	case status >= 500:
		return Classification{Kind: KindServer}
	default:
		return Classification{Kind: KindUnknown}
	}
}

var (
	rateLimitPatterns = []string{"rate limit", "too many requests", "429", "quota exceeded", "throttl"}
	networkPatterns   = []string{
		"connection refused", "connection reset", "timeout", "timed out", "temporary failure",
		"no such host", "network", "econnreset", "etimedout", "socket hang up",
	}
	serverPatterns = []string{
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"500", "502", "503", "504",
	}
)

func byMessage(err error) Classification {
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return Classification{Kind: KindRateLimit, Wait: waitHint(err)}
		}
	}
	for _, p := range serverPatterns {
		if strings.Contains(msg, p) {
			return Classification{Kind: KindServer}
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return Classification{Kind: KindNetwork}
		}
	}
	return Classification{Kind: KindUnknown}
}

var (
	retryAfterPattern = regexp.MustCompile(`(?i)retry[-_ ]?after["']?\s*[:=]?\s*(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?)?\b`)
	waitPattern       = regexp.MustCompile(`(?i)wait\s+(?:for\s+)?(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?)\b`)
)

// waitHint extracts an explicit back-off from err: a WaitHinter in the
// chain, a JSON retry_after field, "Retry-After: 30", "retry after 30s" or
// "wait 10 seconds". It returns zero when no hint is present.
func waitHint(err error) time.Duration {
	var wh WaitHinter
	if errors.As(err, &wh) {
		if d := wh.RetryAfter(); d > 0 {
			return d
		}
	}
	return ParseWaitHint(err.Error())
}

// ParseWaitHint extracts a back-off duration from an error message.
func ParseWaitHint(msg string) time.Duration {
	if i := strings.IndexByte(msg, '{'); i >= 0 {
		if v := gjson.Get(msg[i:], "retry_after"); v.Exists() && v.Float() > 0 {
			return time.Duration(v.Float() * float64(time.Second))
		}
	}
	for _, re := range []*regexp.Regexp{retryAfterPattern, waitPattern} {
		if m := re.FindStringSubmatch(msg); m != nil {
			if d := toDuration(m[1], m[2]); d > 0 {
				return d
			}
		}
	}
	return 0
}

func toDuration(num, unit string) time.Duration {
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	scale := time.Second
	switch u := strings.ToLower(unit); {
	case u == "ms" || strings.HasPrefix(u, "milli"):
		scale = time.Millisecond
	case u == "m" || strings.HasPrefix(u, "min"):
		scale = time.Minute
	}
	return time.Duration(n * float64(scale))
}

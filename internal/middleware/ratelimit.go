package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"marketplace-security/internal/audit"
	"marketplace-security/internal/ratelimit"
)

// ErrorBody is the JSON shape of throttle and lock rejections.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

type rateLimitOptions struct {
	endpoint func(*http.Request) string
	emitter  audit.Emitter
	now      func() time.Time
}

type RateLimitOption func(*rateLimitOptions)

// WithEndpoint overrides the endpoint half of the key. The default is the
// request path.
func WithEndpoint(fn func(*http.Request) string) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.endpoint = fn
	}
}

// WithEmitter reports each rejection as a rate_limited event.
func WithEmitter(e audit.Emitter) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.emitter = e
	}
}

func WithNow(now func() time.Time) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.now = now
	}
}

// RateLimit enforces limiter per client identifier and endpoint. Allowed
// requests get X-RateLimit-* headers; rejected ones get a 429.
func RateLimit(limiter *ratelimit.Limiter, opts ...RateLimitOption) func(http.Handler) http.Handler {
	o := rateLimitOptions{
		endpoint: func(r *http.Request) string { return r.URL.Path },
		emitter:  audit.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ClientIdentifier(r.Header)
			endpoint := o.endpoint(r)

			res := limiter.Check(r.Context(), clientID, endpoint)
			if !res.Allowed {
				retryAfter := res.RetryAfter(o.now())
				o.emitter.Emit(audit.NewEvent(audit.EventRateLimited, "", endpoint, clientID).
					With("limiter", limiter.Config().Name).
					With("retry_after", strconv.Itoa(retryAfter)))
				WriteTooManyRequests(w, retryAfter)
				return
			}

			SetRateLimitHeaders(w.Header(), res)
			next.ServeHTTP(w, r)
		})
	}
}

func SetRateLimitHeaders(h http.Header, res ratelimit.Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))
}

func WriteTooManyRequests(w http.ResponseWriter, retryAfter int) {
	WriteRetryable(w, http.StatusTooManyRequests, ErrorBody{
		Error:      "Too many requests",
		Message:    fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
	})
}

// WriteRetryable writes body with a matching Retry-After header.
func WriteRetryable(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/JustinTDCT/DoubanLink/internal/cache"
	"github.com/JustinTDCT/DoubanLink/internal/httpclient"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// SchemaError means an upstream payload did not decode into, or did not
// validate against, the expected shape.
type SchemaError struct {
	Provider string
	Op       string
	Err      error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s %s: unexpected response: %v", e.Provider, e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

var validate = validator.New()

// cachePolicy says how a response is memoized. A zero key disables caching.
type cachePolicy struct {
	key   string
	ttl   time.Duration
	tiers cache.Tier
}

// provider is the plumbing every scraper shares: an HTTP client, the cache
// and a logger.
type provider struct {
	name   string
	http   *httpclient.Client
	cache  *cache.Cache
	logger *log.Logger
	// send overrides http.Do, e.g. to add retries.
	send func(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// raw fetches the response body, going through the cache when policy has a
// key. Bodies are kept verbatim so decoding happens after a cache hit too.
func (p *provider) raw(ctx context.Context, req httpclient.Request, policy cachePolicy) (json.RawMessage, error) {
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		do := p.http.Do
		if p.send != nil {
			do = p.send
		}
		resp, err := do(ctx, req)
		if err != nil {
			return nil, err
		}
		if !json.Valid(resp.Body) {
			return nil, &SchemaError{Provider: p.name, Op: req.Path, Err: errors.New("body is not JSON")}
		}
		return json.RawMessage(resp.Body), nil
	}
	if policy.key == "" || p.cache == nil {
		return fetch(ctx)
	}
	if policy.tiers == 0 {
		policy.tiers = cache.TierLocal
	}
	return cache.Fetch(ctx, p.cache, policy.key, policy.ttl, policy.tiers, fetch)
}

// getJSON fetches, decodes and validates one response.
func getJSON[T any](ctx context.Context, p *provider, op string, req httpclient.Request, policy cachePolicy) (T, error) {
	var out T
	body, err := p.raw(ctx, req, policy)
	if err != nil {
		return out, err
	}
	if err := decodeValid(body, &out); err != nil {
		schemaErr := &SchemaError{Provider: p.name, Op: op, Err: err}
		p.logger.Printf("[%s] %v", p.name, schemaErr)
		return out, schemaErr
	}
	return out, nil
}

func decodeValid(body []byte, target any) error {
	if err := json.Unmarshal(body, target); err != nil {
		return err
	}
	return validateValue(target)
}

// validateValue checks a struct or every struct element of a slice.
func validateValue(v any) error {
	switch t := v.(type) {
	case interface{ validateAll() error }:
		return t.validateAll()
	default:
		return validate.Struct(v)
	}
}

// flexInt64 accepts a JSON number or a numeric string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*f = 0
		return nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt64(n)
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*f = 0
		return nil
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(n)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*f = ""
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Errorf("not a string: %s", b)
	}
	*f = flexString(s)
	return nil
}

// safely runs fn and reports a failure as a log line instead of an error.
func safely[T any](logger *log.Logger, what string, fn func() (T, error)) (T, bool) {
	v, err := fn()
	if err != nil {
		logger.Printf("[resolver] %s: %v", what, err)
		var zero T
		return zero, false
	}
	return v, true
}

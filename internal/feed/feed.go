// Package feed fetches raw vehicle positions from upstream tracking
// services. Every adapter returns vehicle.RawPosition records and leaves
// validation to the vehicle package.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"vehicle-tracker/internal/clock"
	"vehicle-tracker/internal/vehicle"
)

// MaxBodyBytes caps any upstream response body.
const MaxBodyBytes = 25 << 20

// ErrUnauthorized is returned when an authenticated feed rejects its token.
var ErrUnauthorized = errors.New("feed rejected credentials")

type Kind string

const (
	KindWindow       Kind = "window"
	KindLastPosition Kind = "lastposition"
	KindGTFSRT       Kind = "gtfsrt"
)

// Fetcher returns the raw records reported between from and to. Feeds that
// only expose a latest snapshot ignore the window.
type Fetcher interface {
	Fetch(ctx context.Context, from, to time.Time) ([]vehicle.RawPosition, error)
}

// Auth holds resolved credentials for token-authenticated feeds.
type Auth struct {
	LoginURL   string
	Username   string
	Password   string
	ClientCode string
	TokenTTL   time.Duration
}

type Settings struct {
	Name       string
	Kind       Kind
	URL        string
	Location   *time.Location
	RatePerSec float64
	Auth       *Auth
	Client     *http.Client
	Clock      clock.Clock
}

// New builds the fetcher for s.Kind.
func New(s Settings) (Fetcher, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("feed %s: url is required", s.Name)
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	h := newHTTPDoer(s.Client, s.RatePerSec)
	switch s.Kind {
	case KindWindow, "":
		return &WindowFeed{url: s.URL, loc: s.Location, http: h}, nil
	case KindLastPosition:
		if s.Auth == nil || s.Auth.LoginURL == "" {
			return nil, fmt.Errorf("feed %s: lastposition feeds need auth.login_url", s.Name)
		}
		return NewLastPositionFeed(s.URL, *s.Auth, h, s.Clock), nil
	case KindGTFSRT:
		return &GTFSRTFeed{url: s.URL, http: h}, nil
	default:
		return nil, fmt.Errorf("feed %s: unknown kind %q", s.Name, s.Kind)
	}
}

// httpDoer applies the optional rate limit and the body cap to every
// upstream request.
type httpDoer struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPDoer(client *http.Client, ratePerSec float64) *httpDoer {
	if client == nil {
		client = &http.Client{}
	}
	h := &httpDoer{client: client}
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return h
}

// StatusError is an unexpected upstream HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (h *httpDoer) do(req *http.Request) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(b)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	if len(b) > MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxBodyBytes)
	}
	return b, nil
}

// decodeRecords decodes a JSON array one element at a time. An element that
// cannot be decoded into T becomes a RawPosition carrying DecodeError, so it
// is dropped as malformed without losing the rest of the response.
func decodeRecords[T any](b []byte, convert func(T) vehicle.RawPosition) ([]vehicle.RawPosition, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(b, &elems); err != nil {
		return nil, err
	}
	out := make([]vehicle.RawPosition, 0, len(elems))
	for i, e := range elems {
		var rec T
		if err := json.Unmarshal(e, &rec); err != nil {
			out = append(out, vehicle.RawPosition{DecodeError: fmt.Errorf("record %d: %w", i, err)})
			continue
		}
		out = append(out, convert(rec))
	}
	return out, nil
}

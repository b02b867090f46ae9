package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/clock"
	"vehicle-tracker/internal/vehicle"
)

const defaultTokenTTL = 5 * time.Hour

// LastPositionFeed logs in for a bearer token, caches it for the token TTL
// and posts for the latest position of every vehicle.
type LastPositionFeed struct {
	url   string
	auth  Auth
	http  *httpDoer
	clock clock.Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type lastPositionRecord struct {
	VehicleIntegrationCode vehicle.FlexString `json:"VehicleIntegrationCode"`
	LineNumber             vehicle.FlexString `json:"LineNumber"`
	Latitude               vehicle.FlexString `json:"Latitude"`
	Longitude              vehicle.FlexString `json:"Longitude"`
	EventDate              vehicle.FlexString `json:"EventDate"`
	UpdateDate             vehicle.FlexString `json:"UpdateDate"`
	Speed                  vehicle.FlexString `json:"Speed"`
}

type loginResponse struct {
	AccessToken string `json:"AccessToken"`
}

func NewLastPositionFeed(endpoint string, auth Auth, h *httpDoer, c clock.Clock) *LastPositionFeed {
	if auth.TokenTTL <= 0 {
		auth.TokenTTL = defaultTokenTTL
	}
	return &LastPositionFeed{url: endpoint, auth: auth, http: h, clock: c}
}

func (f *LastPositionFeed) Fetch(ctx context.Context, _, _ time.Time) ([]vehicle.RawPosition, error) {
	token, err := f.getToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader([]byte("[]")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	b, err := f.http.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			f.clearToken()
			return nil, fmt.Errorf("fetch last positions: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("fetch last positions: %w", err)
	}

	out, err := decodeRecords(b, func(r lastPositionRecord) vehicle.RawPosition {
		return vehicle.RawPosition{
			VehicleID:  string(r.VehicleIntegrationCode),
			LineID:     string(r.LineNumber),
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			EventTime:  r.EventDate,
			ServerTime: r.UpdateDate,
			Speed:      r.Speed,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("decode last positions: %w", err)
	}
	return out, nil
}

func (f *LastPositionFeed) getToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" && f.clock.Now().Before(f.expiresAt) {
		return f.token, nil
	}
	token, err := f.login(ctx)
	if err != nil {
		return "", err
	}
	f.token = token
	f.expiresAt = f.clock.Now().Add(f.auth.TokenTTL)
	log.Debug().Time("expires_at", f.expiresAt).Msg("feed token refreshed")
	return token, nil
}

func (f *LastPositionFeed) clearToken() {
	f.mu.Lock()
	f.token = ""
	f.expiresAt = time.Time{}
	f.mu.Unlock()
}

func (f *LastPositionFeed) login(ctx context.Context) (string, error) {
	if f.auth.Username == "" || f.auth.Password == "" {
		return "", fmt.Errorf("login: missing username or password")
	}
	u, err := url.Parse(f.auth.LoginURL)
	if err != nil {
		return "", fmt.Errorf("parse login url: %w", err)
	}
	q := u.Query()
	q.Set("Username", f.auth.Username)
	q.Set("Password", f.auth.Password)
	q.Set("ClientIntegrationCodeBus", f.auth.ClientCode)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	b, err := f.http.do(req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return "", fmt.Errorf("login: %w", ErrUnauthorized)
		}
		return "", fmt.Errorf("login: %w", err)
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if lr.AccessToken == "" {
		return "", fmt.Errorf("login response missing AccessToken")
	}
	token, err := url.PathUnescape(lr.AccessToken)
	if err != nil {
		token = lr.AccessToken
	}
	return token, nil
}

package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tastegraph/gusto-engine/engine/domain"
)

// ErrNotFound is returned when the geocoder cannot resolve a place name.
var ErrNotFound = fmt.Errorf("geo: place not found")

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, place string) (domain.Coordinates, error)
}

// Nominatim is a Geocoder backed by the OpenStreetMap Nominatim HTTP API.
// Requests are limited to 1/s per the Nominatim usage policy.
type Nominatim struct {
	baseURL   string
	userAgent string
	// CityBias is appended to every query to constrain results, e.g. "Lodz, Poland".
	cityBias string
	limiter  *rate.Limiter
	client   *http.Client
}

// NewNominatim creates a Nominatim geocoder. baseURL defaults to the public
// endpoint when empty; cityBias may be empty for unconstrained lookups.
func NewNominatim(baseURL, userAgent, cityBias string) *Nominatim {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: userAgent,
		cityBias:  cityBias,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve geocodes a place name. The caller should bound ctx with a timeout;
// on failure the pipeline proceeds without a location rather than stalling.
func (n *Nominatim) Resolve(ctx context.Context, place string) (domain.Coordinates, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return domain.Coordinates{}, err
	}

	q := place
	if n.cityBias != "" {
		q = place + ", " + n.cityBias
	}

	u := fmt.Sprintf("%s/search?q=%s&format=json&limit=1", n.baseURL, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Coordinates{}, err
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("geo: nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Coordinates{}, fmt.Errorf("geo: nominatim status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return domain.Coordinates{}, fmt.Errorf("geo: nominatim decode: %w", err)
	}
	if len(results) == 0 {
		return domain.Coordinates{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("geo: parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("geo: parse lon %q: %w", results[0].Lon, err)
	}
	return domain.Coordinates{Lat: lat, Lon: lon}, nil
}

// Package vets finds veterinary clinics near a point using the OpenStreetMap
// Overpass API.
package vets

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"
	DefaultRadius      = 10000 // meters
	DefaultName        = "Veterinary Clinic"

	earthRadiusKm = 6371
)

// Vet is one clinic. DistanceKm is measured from the search point.
type Vet struct {
	ID         int64
	Lat, Lon   float64
	Name       string
	Address    string
	Phone      string
	Hours      string
	Website    string
	DistanceKm float64
}

type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(overpassURL string, opts ...Option) *Client {
	if strings.TrimSpace(overpassURL) == "" {
		overpassURL = DefaultOverpassURL
	}
	c := &Client{url: overpassURL, httpClient: http.DefaultClient, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query returns the Overpass QL for clinics (nodes and ways) within radius
// meters of lat,lon.
func Query(lat, lon float64, radius int) string {
	around := fmt.Sprintf("(around:%d,%s,%s)", radius, coord(lat), coord(lon))
	return "[out:json][timeout:15];\n(\n" +
		`  node["amenity"="veterinary"]` + around + ";\n" +
		`  way["amenity"="veterinary"]` + around + ";\n" +
		");\nout center body;"
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Nearby returns the clinics within radius meters of lat,lon, nearest first.
func (c *Client) Nearby(ctx context.Context, lat, lon float64, radius int) ([]Vet, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("vets: invalid coordinates %s,%s", coord(lat), coord(lon))
	}
	if radius <= 0 {
		radius = DefaultRadius
	}

	u := c.url + "?data=" + url.QueryEscape(Query(lat, lon, radius))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("vets: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vets: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("vets: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vets: failed to fetch vet data: status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("vets: invalid response from %s", c.url)
	}

	elements := gjson.GetBytes(raw, "elements").Array()
	out := make([]Vet, 0, len(elements))
	for _, el := range elements {
		v, ok := parseElement(el)
		if !ok {
			continue
		}
		v.DistanceKm = DistanceKm(lat, lon, v.Lat, v.Lon)
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	c.logger.Debug("vets found", zap.Int("count", len(out)), zap.Int("radius", radius))
	return out, nil
}

// parseElement maps an Overpass node or way. Ways carry their position in
// "center". Elements without a position are skipped.
func parseElement(el gjson.Result) (Vet, bool) {
	latR, lonR := el.Get("lat"), el.Get("lon")
	if !latR.Exists() || !lonR.Exists() {
		latR, lonR = el.Get("center.lat"), el.Get("center.lon")
	}
	if !latR.Exists() || !lonR.Exists() {
		return Vet{}, false
	}

	tags := map[string]string{}
	el.Get("tags").ForEach(func(k, v gjson.Result) bool {
		tags[k.String()] = v.String()
		return true
	})

	return Vet{
		ID:      el.Get("id").Int(),
		Lat:     latR.Float(),
		Lon:     lonR.Float(),
		Name:    first(tags["name"], DefaultName),
		Address: address(tags),
		Phone:   first(tags["phone"], tags["contact:phone"]),
		Hours:   tags["opening_hours"],
		Website: first(tags["website"], tags["contact:website"]),
	}, true
}

func address(tags map[string]string) string {
	var parts []string
	for _, k := range []string{"addr:street", "addr:housenumber", "addr:city"} {
		if v := tags[k]; v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return tags["addr:full"]
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DirectionsURL links to driving directions from lat,lon to v.
func DirectionsURL(lat, lon float64, v Vet) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/%s,%s/%s,%s", coord(lat), coord(lon), coord(v.Lat), coord(v.Lon))
}

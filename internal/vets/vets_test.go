package vets

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const overpassReply = `{"version":0.6,"elements":[
  {"type":"node","id":1,"lat":28.70,"lon":77.20,"tags":{"amenity":"veterinary","name":"Far Clinic","phone":"+91 11 1234"}},
  {"type":"way","id":2,"center":{"lat":28.614,"lon":77.209},"tags":{"amenity":"veterinary","addr:street":"Janpath","addr:housenumber":"12","addr:city":"New Delhi","contact:phone":"+91 11 5678","contact:website":"https://pets.example"}},
  {"type":"node","id":3,"lat":28.62,"lon":77.21,"tags":{"amenity":"veterinary","addr:full":"Sector 4, Noida","opening_hours":"Mo-Sa 09:00-18:00","website":"https://a.example","contact:website":"https://b.example"}},
  {"type":"way","id":4,"tags":{"amenity":"veterinary","name":"No position"}}
]}`

func TestNearby(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("data")
		_, _ = io.WriteString(w, overpassReply)
	}))
	defer srv.Close()

	vets, err := New(srv.URL).Nearby(context.Background(), 28.6139, 77.209, 5000)
	require.NoError(t, err)
	require.Contains(t, query, `node["amenity"="veterinary"](around:5000,28.6139,77.209);`)
	require.Contains(t, query, `way["amenity"="veterinary"](around:5000,28.6139,77.209);`)
	require.Contains(t, query, "out center body;")

	require.Len(t, vets, 3)
	require.Equal(t, []int64{2, 3, 1}, []int64{vets[0].ID, vets[1].ID, vets[2].ID})

	way := vets[0]
	require.Equal(t, DefaultName, way.Name)
	require.Equal(t, "Janpath, 12, New Delhi", way.Address)
	require.Equal(t, "+91 11 5678", way.Phone)
	require.Equal(t, "https://pets.example", way.Website)
	require.InDelta(t, 28.614, way.Lat, 1e-9)
	require.Less(t, way.DistanceKm, 0.1)

	node := vets[1]
	require.Equal(t, "Sector 4, Noida", node.Address)
	require.Equal(t, "Mo-Sa 09:00-18:00", node.Hours)
	require.Equal(t, "https://a.example", node.Website)
	require.Empty(t, node.Phone)

	require.Equal(t, "Far Clinic", vets[2].Name)
	require.Greater(t, vets[2].DistanceKm, vets[1].DistanceKm)
}

func TestNearby_DefaultRadius(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("data")
		_, _ = io.WriteString(w, `{"elements":[]}`)
	}))
	defer srv.Close()

	vets, err := New(srv.URL).Nearby(context.Background(), 20.5937, 78.9629, 0)
	require.NoError(t, err)
	require.Empty(t, vets)
	require.Contains(t, query, "around:10000,")
}

func TestNearby_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("data"), "around:1,") {
			_, _ = io.WriteString(w, "<html>")
			return
		}
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()
	c := New(srv.URL)

	_, err := c.Nearby(context.Background(), 10, 10, 100)
	require.ErrorContains(t, err, "failed to fetch vet data")

	_, err = c.Nearby(context.Background(), 10, 10, 1)
	require.ErrorContains(t, err, "invalid response")

	_, err = c.Nearby(context.Background(), 91, 0, 100)
	require.ErrorContains(t, err, "invalid coordinates")
}

func TestDistanceKm(t *testing.T) {
	require.InDelta(t, 0, DistanceKm(28.6, 77.2, 28.6, 77.2), 1e-9)
	// New Delhi to Mumbai
	require.InDelta(t, 1148, DistanceKm(28.6139, 77.2090, 19.0760, 72.8777), 5)
	require.InDelta(t, DistanceKm(1, 2, 3, 4), DistanceKm(3, 4, 1, 2), 1e-9)
}

func TestDirectionsURL(t *testing.T) {
	got := DirectionsURL(28.6139, 77.209, Vet{Lat: 28.62, Lon: 77.21})
	require.Equal(t, "https://www.google.com/maps/dir/28.6139,77.209/28.62,77.21", got)
}

func TestNew_DefaultURL(t *testing.T) {
	require.Equal(t, DefaultOverpassURL, New(" ").url)
}

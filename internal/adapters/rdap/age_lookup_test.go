package rdap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openrdap/rdap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistrationDate(t *testing.T) {
	events := []rdap.Event{
		{Action: "last changed", Date: "2024-01-01T00:00:00Z"},
		{Action: "registration", Date: "not a date"},
		{Action: "Registration", Date: "2019-05-04T10:00:00Z"},
		{Action: "expiration", Date: "2030-05-04T10:00:00Z"},
	}

	created, ok := RegistrationDate(events)
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 5, 4, 10, 0, 0, 0, time.UTC), created.UTC())

	_, ok = RegistrationDate(nil)
	assert.False(t, ok)
}

func TestCreationDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rdap+json")
		switch r.URL.Path {
		case "/domain/example.com":
			_, _ = w.Write([]byte(`{
				"objectClassName": "domain",
				"ldhName": "EXAMPLE.COM",
				"events": [
					{"eventAction": "registration", "eventDate": "1995-08-14T04:00:00Z"},
					{"eventAction": "expiration", "eventDate": "2030-08-13T04:00:00Z"}
				]
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	lookup, err := NewAgeLookup(srv.URL, 2*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)

	created, found, err := lookup.CreationDate(context.Background(), "example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1995, created.Year())

	_, found, err = lookup.CreationDate(context.Background(), "unregistered.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewAgeLookupRejectsBadServer(t *testing.T) {
	_, err := NewAgeLookup("://bad", time.Second, zaptest.NewLogger(t))
	assert.Error(t, err)
}

package signaling_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

func TestFetchICEServers(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webrtc/ice" || r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"c"}]}`))
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mesh"
	servers, err := signaling.FetchICEServers(context.Background(), ts.Client(), wsURL, "tok", "")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[0].URLs)
	assert.Equal(t, "u", servers[0].Username)

	_, err = signaling.FetchICEServers(context.Background(), ts.Client(), wsURL, "", "")
	assert.ErrorContains(t, err, "unexpected status 401")
}

func TestFetchICEServers_EmptyListAndBadScheme(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(ts.Close)

	servers, err := signaling.FetchICEServers(context.Background(), nil, ts.URL, "", "")
	require.NoError(t, err)
	assert.NotNil(t, servers)
	assert.Empty(t, servers)

	_, err = signaling.FetchICEServers(context.Background(), nil, "ftp://relay.example.com", "", "")
	assert.Error(t, err)
}

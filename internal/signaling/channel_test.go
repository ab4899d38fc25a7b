package signaling_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-mesh/internal/signaling"
)

func startRelay(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(relay.HubConfig{})
	ts := httptest.NewServer(relay.NewServer(hub, relay.ServerConfig{}))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func fastBackoff() signaling.Backoff {
	return signaling.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}
}

func dialChannel(t *testing.T, cfg signaling.ChannelConfig) *signaling.Channel {
	t.Helper()
	if cfg.Backoff.Min == 0 {
		cfg.Backoff = fastBackoff()
	}
	ch := signaling.Dial(context.Background(), cfg)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch *signaling.Channel) signaling.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signaling event")
		return nil
	}
}

func nextOf[T signaling.Event](t *testing.T, ch *signaling.Channel) T {
	t.Helper()
	for {
		ev := nextEvent(t, ch)
		if typed, ok := ev.(T); ok {
			return typed
		}
	}
}

func TestChannel_JoinSignalChat(t *testing.T) {
	relayURL := startRelay(t)

	a := dialChannel(t, signaling.ChannelConfig{URL: relayURL, Room: "room", Name: "alice"})
	aSelf := nextOf[signaling.Joined](t, a).Self
	first := nextOf[signaling.PeerJoined](t, a)
	assert.Equal(t, aSelf, first.ID)
	assert.Equal(t, []signaling.ParticipantID{aSelf}, first.Members)

	b := dialChannel(t, signaling.ChannelConfig{URL: relayURL, Room: "room", Name: "bob"})
	bSelf := nextOf[signaling.Joined](t, b).Self
	pj := nextOf[signaling.PeerJoined](t, a)
	assert.Equal(t, bSelf, pj.ID)
	assert.Equal(t, []signaling.ParticipantID{aSelf, bSelf}, pj.Members)
	nextOf[signaling.PeerJoined](t, b)

	require.NoError(t, a.SendSignal(bSelf, signaling.OfferEnvelope("v=0")))
	sig := nextOf[signaling.Signal](t, b)
	assert.Equal(t, aSelf, sig.From)
	assert.True(t, sig.Envelope.IsOffer())

	require.NoError(t, b.SendChat("hello", ""))
	for _, ch := range []*signaling.Channel{a, b} {
		msg := nextOf[signaling.Chat](t, ch)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, "bob", msg.Sender)
		assert.Equal(t, bSelf, msg.SenderID)
	}

	require.NoError(t, b.Close())
	assert.Equal(t, bSelf, nextOf[signaling.PeerLeft](t, a).ID)
}

func TestChannel_CloseEmitsClosedAndRejectsSends(t *testing.T) {
	ch := dialChannel(t, signaling.ChannelConfig{URL: startRelay(t), Room: "room"})
	nextOf[signaling.Joined](t, ch)

	require.NoError(t, ch.Close())
	var closed signaling.Closed
	for ev := range ch.Events() {
		if c, ok := ev.(signaling.Closed); ok {
			closed = c
		}
	}
	assert.NoError(t, closed.Err)
	assert.ErrorIs(t, ch.SendChat("late", "n"), signaling.ErrChannelClosed)
}

func TestChannel_ReconnectsAndRejoins(t *testing.T) {
	var (
		mu    sync.Mutex
		conns int
		joins []string
	)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		n := conns
		joins = append(joins, string(data))
		mu.Unlock()

		joined, _ := signaling.Message{Type: signaling.MessageTypeJoined, ID: signaling.ParticipantID("id-" + string(rune('0'+n)))}.Marshal()
		_ = conn.WriteMessage(websocket.TextMessage, joined)
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	ch := dialChannel(t, signaling.ChannelConfig{
		URL:  "ws" + strings.TrimPrefix(ts.URL, "http"),
		Room: "room",
		Name: "alice",
	})

	assert.Equal(t, signaling.ParticipantID("id-1"), nextOf[signaling.Joined](t, ch).Self)
	disc := nextOf[signaling.Disconnected](t, ch)
	assert.ErrorIs(t, disc.Err, signaling.ErrSignalingDisconnected)
	assert.Equal(t, signaling.ParticipantID("id-2"), nextOf[signaling.Joined](t, ch).Self)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, joins, 2)
	assert.Equal(t, joins[0], joins[1])
	assert.JSONEq(t, `{"type":"join","room":"room","name":"alice"}`, joins[0])
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	target := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	ch := dialChannel(t, signaling.ChannelConfig{URL: target, Room: "room", MaxReconnectAttempts: 2})
	closed := nextOf[signaling.Closed](t, ch)
	require.Error(t, closed.Err)
	assert.True(t, errors.Is(closed.Err, signaling.ErrSignalingDisconnected))

	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.Error(t, ch.SendChat("x", ""))
}

func TestChannel_SendBeforeConnectedFails(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.NotFound(w, r)
	}))
	t.Cleanup(func() {
		close(release)
		ts.Close()
	})

	ch := dialChannel(t, signaling.ChannelConfig{URL: "ws" + strings.TrimPrefix(ts.URL, "http"), Room: "room"})
	assert.ErrorIs(t, ch.SendChat("too early", "n"), signaling.ErrNotConnected)
}

func TestChannel_PassesCredentialsAndHeaders(t *testing.T) {
	got := make(chan *http.Request, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case got <- r.Clone(context.Background()):
		default:
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	dialChannel(t, signaling.ChannelConfig{
		URL:                  ts.URL + "/mesh",
		Room:                 "room",
		Token:                "tok",
		APIKey:               "key",
		Header:               http.Header{"Origin": []string{"https://app.example.com"}},
		MaxReconnectAttempts: 1,
	})

	select {
	case r := <-got:
		assert.Equal(t, "/mesh", r.URL.Path)
		q, err := url.ParseQuery(r.URL.RawQuery)
		require.NoError(t, err)
		assert.Equal(t, "tok", q.Get("token"))
		assert.Equal(t, "key", q.Get("apiKey"))
		assert.Equal(t, "https://app.example.com", r.Header.Get("Origin"))
	case <-time.After(5 * time.Second):
		t.Fatal("relay never saw the upgrade request")
	}
}

package foxglove

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstream/pkg/engine"
	"qstream/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	srv := NewServer(DefaultConfig(), engine.NewHub(), zerolog.Nop())
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Equal(t, Subprotocol, conn.Subprotocol())
	return srv, conn
}

func sampleSummary() engine.Summary {
	return engine.Summary{
		Session: "abc",
		Seq:     4,
		At:      time.Unix(100, 500),
		Elapsed: 1500 * time.Millisecond,
		Packets: 12,
		Channels: map[protocol.ChannelType]engine.TypeSummary{
			protocol.ChannelAnalog: {Kind: engine.KindMaxSample, Frames: 12, Entries: 72, Value: 4.5},
		},
		GpsFixes: []engine.GpsFix{
			{ChannelID: 9, Timestamp: 88, Message: "$GPGGA,1"},
			{ChannelID: 9, Timestamp: 89},
			{ChannelID: 9, Timestamp: 90, Message: "$GPRMC,2"},
		},
	}
}

func TestServerHandshake(t *testing.T) {
	srv, conn := newTestServer(t)

	var info ServerInfoMsg
	require.NoError(t, conn.ReadJSON(&info))
	assert.Equal(t, OpServerInfo, info.Op)
	assert.Equal(t, "qstream", info.Name)
	assert.Equal(t, srv.sessionID, info.SessionID)

	var adv AdvertiseMsg
	require.NoError(t, conn.ReadJSON(&adv))
	require.Len(t, adv.Channels, 2)
	assert.Equal(t, srv.cfg.Topic, adv.Channels[0].Topic)
	assert.Equal(t, srv.cfg.GpsTopic, adv.Channels[1].Topic)
	assert.NotEqual(t, adv.Channels[0].ID, adv.Channels[1].ID)
}

func TestServerPublishesToSubscribers(t *testing.T) {
	srv, conn := newTestServer(t)
	var info ServerInfoMsg
	require.NoError(t, conn.ReadJSON(&info))
	var adv AdvertiseMsg
	require.NoError(t, conn.ReadJSON(&adv))

	require.NoError(t, conn.WriteJSON(SubscribeMsg{
		Op:            OpSubscribe,
		Subscriptions: []Subscription{{ID: 7, ChannelID: srv.cfg.ChannelID}, {ID: 8, ChannelID: 999}},
	}))
	require.Eventually(t, func() bool {
		for _, c := range srv.snapshotClients() {
			if len(c.subIDsForChannel(srv.cfg.ChannelID)) == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	srv.broadcastSummary(sampleSummary())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)

	subID, logTime, payload, ok := DecodeMessageData(frame)
	require.True(t, ok)
	assert.Equal(t, uint32(7), subID)
	assert.Equal(t, uint64(time.Unix(100, 500).UnixNano()), logTime)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "abc", got["session"])
	assert.EqualValues(t, 12, got["packets"])
	assert.EqualValues(t, 1500, got["elapsed_ms"])
	channels := got["channels"].(map[string]any)
	assert.Contains(t, channels, "analog")
}

func TestGpsLogsOnePerMessage(t *testing.T) {
	srv := NewServer(Config{}, nil, zerolog.Nop())
	ts := time.Unix(42, 99)

	logs := srv.gpsLogs(sampleSummary(), ts)
	require.Len(t, logs, 2)
	assert.Equal(t, "$GPGGA,1", logs[0].Message)
	assert.Equal(t, "$GPRMC,2", logs[1].Message)
	assert.Equal(t, uint32(42), logs[0].Timestamp.Sec)
	assert.Equal(t, uint32(99), logs[0].Timestamp.Nsec)

	assert.Empty(t, srv.gpsLogs(engine.Summary{}, ts))
}

func TestConfigDefaultsSeparateChannels(t *testing.T) {
	cfg := Config{ChannelID: 5, GpsChannelID: 5}
	cfg.applyDefaults()
	assert.Equal(t, uint64(6), cfg.GpsChannelID)
	assert.Equal(t, DefaultConfig().Topic, cfg.Topic)
}

func TestMessageDataRoundTrip(t *testing.T) {
	frame := EncodeMessageData(3, 1234, []byte(`{"a":1}`))
	subID, logTime, payload, ok := DecodeMessageData(frame)
	require.True(t, ok)
	assert.Equal(t, uint32(3), subID)
	assert.Equal(t, uint64(1234), logTime)
	assert.Equal(t, `{"a":1}`, string(payload))

	_, _, _, ok = DecodeMessageData([]byte{0x02})
	assert.False(t, ok)
}

package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/agentpulse/internal/ledger"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type streamedLog struct {
	Seq      uint64 `json:"seq"`
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
	Name     string `json:"name"`
}

func dial(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v2/events/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func readLogs(t *testing.T, conn *websocket.Conn, n int) []streamedLog {
	t.Helper()
	out := make([]streamedLog, 0, n)
	for len(out) < n {
		fr := readFrame(t, conn)
		require.Equal(t, "log", fr.Type)
		var l streamedLog
		require.NoError(t, json.Unmarshal(fr.Payload, &l))
		out = append(out, l)
	}
	return out
}

func TestStreamDeliversCommittedLogs(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f, "")

	hello := readFrame(t, conn)
	require.Equal(t, "hello", hello.Type)
	var h HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &h))
	assert.NotEmpty(t, h.ClientID)
	assert.Equal(t, f.n.Chain.LastSeq(), h.Seq)

	start := f.n.Chain.LastSeq()
	f.approveAndPulse(t, f.aliceKey, whole(1))

	// Approval, then Pulse, ReliabilityUpdate, Transfer.
	logs := readLogs(t, conn, 4)
	for i, l := range logs {
		assert.Equal(t, start+uint64(i)+1, l.Seq)
		assert.NotEmpty(t, l.TxHash)
	}
	assert.Equal(t, "Approval", logs[0].Name)
	assert.Equal(t, "Pulse", logs[1].Name)
	assert.Equal(t, uint(0), logs[1].LogIndex)
	assert.Equal(t, uint(2), logs[3].LogIndex)
	assert.Equal(t, logs[1].TxHash, logs[3].TxHash)
}

func TestStreamReplaysSince(t *testing.T) {
	f := newFixture(t, nil)
	f.approveAndPulse(t, f.aliceKey, whole(1))
	total := f.n.Chain.LastSeq()

	conn := dial(t, f, "?since=0")
	hello := readFrame(t, conn)
	var h HelloPayload
	require.NoError(t, json.Unmarshal(hello.Payload, &h))
	assert.Zero(t, h.Seq)

	logs := readLogs(t, conn, int(total))
	for i, l := range logs {
		assert.Equal(t, uint64(i)+1, l.Seq)
	}
}

func TestStreamRecoversDroppedLogs(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.cfg.StreamBuffer = 1
	conn := dial(t, f, "")
	readFrame(t, conn)

	start := f.n.Chain.LastSeq()
	// One transaction emitting more logs than the subscription can buffer.
	_, err := f.n.Chain.Execute(f.alice, func(tx *ledger.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := f.n.Token.Approve(tx, f.bob, whole(int64(i+1))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	logs := readLogs(t, conn, 5)
	for i, l := range logs {
		assert.Equal(t, start+uint64(i)+1, l.Seq)
		assert.Equal(t, "Approval", l.Name)
	}
}

func TestStreamRejectsBadSince(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/v2/events/ws?since=abc")
	assert.Equal(t, 400, rec.Code)
}

func TestStreamClosesOnShutdown(t *testing.T) {
	f := newFixture(t, nil)
	conn := dial(t, f, "")
	readFrame(t, conn)

	f.srv.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
}

package natsbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"policyvoice/app/model"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestLogTelemetry_Publishes(t *testing.T) {
	server := startTestNATSServer(t)

	listener, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan *nats.Msg, 1)
	_, err = listener.ChanSubscribe("policyvoice.telemetry.turn", received)
	require.NoError(t, err)
	require.NoError(t, listener.Flush())

	sink, err := Connect(server.ClientURL(), "", "policyvoice.telemetry.turn")
	require.NoError(t, err)
	defer sink.Shutdown()

	record := model.TelemetryRecord{
		ID:        "rec-1",
		SessionID: "sess",
		Category:  model.CategoryClaimsInquiry,
		Route:     "auth_flow",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, sink.LogTelemetry(context.Background(), record))

	select {
	case msg := <-received:
		var got model.TelemetryRecord
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "rec-1", got.ID)
		assert.Equal(t, "auth_flow", got.Route)
		assert.Equal(t, model.CategoryClaimsInquiry, got.Category)
	case <-time.After(2 * time.Second):
		t.Fatal("telemetry not received")
	}
}

func TestLogTelemetry_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	sink, err := Connect(server.ClientURL(), "", "policyvoice.telemetry.turn")
	require.NoError(t, err)
	sink.conn.Close()

	assert.Error(t, sink.LogTelemetry(context.Background(), model.TelemetryRecord{ID: "rec"}))
}

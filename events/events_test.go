package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telgo/smsrouter/sms"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*nats.Conn, func()) {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("failed to connect: %v", err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func TestPublisher_HandleInbound(t *testing.T) {
	nc, cleanup := startTestServer(t, 14620)
	defer cleanup()

	publisher := NewPublisher(nc, nil)

	received := make(chan InboundEvent, 1)
	sub, err := nc.Subscribe("sms.inbound.3gpp", func(msg *nats.Msg) {
		var event InboundEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("failed to unmarshal: %v", err)
			return
		}
		received <- event
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	results := make(chan sms.ResultCode, 1)
	msg := sms.InboundMessage{
		Format:   sms.Format3GPP,
		OrigAddr: "+491711234567",
		Class:    sms.Class1,
		Text:     "hello",
	}

	publisher.HandleInbound(msg, sms.NewResultHandle(func(code sms.ResultCode) {
		results <- code
	}))
	nc.Flush()

	assert.Equal(t, sms.ResultOK, <-results)
	select {
	case event := <-received:
		assert.Equal(t, "3gpp", event.Format)
		assert.Equal(t, "+491711234567", event.OrigAddr)
		assert.Equal(t, int(sms.Class1), event.Class)
		assert.Equal(t, "hello", event.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbound event")
	}
}

func TestPublisher_SubjectPerFormat(t *testing.T) {
	nc, cleanup := startTestServer(t, 14621)
	defer cleanup()

	publisher := NewPublisher(nc, nil)

	received := make(chan string, 2)
	sub, err := nc.Subscribe("sms.inbound.>", func(msg *nats.Msg) {
		received <- msg.Subject
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	publisher.HandleInbound(sms.InboundMessage{Format: sms.Format3GPP}, nil)
	publisher.HandleInbound(sms.InboundMessage{Format: sms.Format3GPP2}, nil)
	nc.Flush()

	subjects := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case subject := <-received:
			subjects[subject] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	assert.True(t, subjects["sms.inbound.3gpp"])
	assert.True(t, subjects["sms.inbound.3gpp2"])
}

func TestPublisher_ClosedConnectionFails(t *testing.T) {
	nc, cleanup := startTestServer(t, 14622)
	cleanup()

	publisher := NewPublisher(nc, nil)
	results := make(chan sms.ResultCode, 1)

	publisher.HandleInbound(sms.InboundMessage{Format: sms.Format3GPP}, sms.NewResultHandle(func(code sms.ResultCode) {
		results <- code
	}))

	assert.Equal(t, sms.ResultGenericFailure, <-results)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect("invalid://not-a-nats-server", "test-client", nil)

	assert.Error(t, err)
}

package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testChatLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChatSwitchKeepsClientAlive(t *testing.T) {
	t.Parallel()

	log := testChatLogger()
	a := NewChat(log, "chat-a", "direct")
	b := NewChat(log, "chat-b", "direct")

	client := NewClient("conn-1", 8)
	a.Join(client)
	b.Join(client)

	// The switch sequence the gateway runs: join the new chat, then
	// leave the old one.
	a.Leave(client.ConnID)

	select {
	case <-client.Done():
		t.Fatalf("leaving a chat must not shut the client down")
	default:
	}

	// Fanout on the new chat still reaches the client.
	env := newEnvelope(TypeMessageNew, nil, time.Now().UTC())
	b.Broadcast(env)
	select {
	case got := <-client.Send:
		if got.Type != TypeMessageNew {
			t.Fatalf("unexpected envelope type %q", got.Type)
		}
	default:
		t.Fatalf("expected a broadcast on the joined chat")
	}

	// The left chat no longer delivers.
	a.Broadcast(env)
	select {
	case <-client.Send:
		t.Fatalf("left chat must not deliver")
	default:
	}
}

func TestChatBroadcastSkipsClosedClients(t *testing.T) {
	t.Parallel()

	c := NewChat(testChatLogger(), "chat-a", "direct")

	open := NewClient("conn-open", 8)
	closed := NewClient("conn-closed", 8)
	c.Join(open)
	c.Join(closed)
	closed.Close()

	c.Broadcast(newEnvelope(TypeMessageNew, nil, time.Now().UTC()))

	select {
	case <-open.Send:
	default:
		t.Fatalf("open client must receive the broadcast")
	}
	select {
	case <-closed.Send:
		t.Fatalf("closed client must be skipped")
	default:
	}
}

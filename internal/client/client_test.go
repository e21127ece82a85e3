package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/picoradar/picoradar/internal/broadcast"
	"github.com/picoradar/picoradar/internal/client"
	"github.com/picoradar/picoradar/internal/protocol"
	"github.com/picoradar/picoradar/internal/registry"
	"github.com/picoradar/picoradar/internal/server"
	"github.com/picoradar/picoradar/internal/session"
)

const testToken = "client-test-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBackend bundles a running server with its registry and hub.
type testBackend struct {
	reg *registry.Registry
	hub *server.Hub
	// addr is host:port of the test listener.
	addr string
}

func startBackend(t *testing.T) *testBackend {
	t.Helper()

	logger := discardLogger()
	reg := registry.New(logger)
	hub := server.NewHub(logger)
	srv := server.New(reg, hub, session.Config{Token: testToken}, logger)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	return &testBackend{
		reg:  reg,
		hub:  hub,
		addr: strings.TrimPrefix(ts.URL, "http://"),
	}
}

// newClient builds a client that is disconnected in cleanup.
func newClient(t *testing.T) *client.Client {
	t.Helper()

	c := client.New(discardLogger())
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectAuthenticates(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !c.Connected() {
		t.Error("Connected() = false after successful Connect")
	}
	if _, ok := backend.reg.Get("alice"); !ok {
		t.Error("alice missing from registry after connect")
	}
}

func TestConnectBadToken(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	err := c.Connect(context.Background(), backend.addr, "alice", "wrong")

	var authErr *client.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Connect() error = %v, want *AuthError", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after rejected auth")
	}
}

func TestConnectUnreachable(t *testing.T) {
	t.Parallel()

	c := newClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	// TEST-NET-1 address; nothing listens there.
	err := c.Connect(ctx, "192.0.2.1:1", "alice", testToken)
	if err == nil {
		t.Fatal("Connect() to unreachable host succeeded")
	}
}

func TestConnectWhileConnected(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}

	err := c.Connect(context.Background(), backend.addr, "alice", testToken)
	if !errors.Is(err, client.ErrAlreadyConnected) {
		t.Fatalf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestSendPoseReachesRegistry(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	pose := protocol.Pose{
		Position:    protocol.Vec3{X: 1.5, Y: 0, Z: -2},
		Rotation:    protocol.Quat{W: 1},
		SceneID:     "arena",
		TimestampMS: time.Now().UnixMilli(),
	}
	if err := c.SendPose(pose); err != nil {
		t.Fatalf("SendPose() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := backend.reg.Get("alice")
		if ok && got.SceneID == "arena" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("pose never reached registry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendPoseDisconnected(t *testing.T) {
	t.Parallel()

	c := newClient(t)

	if err := c.SendPose(protocol.Pose{}); !errors.Is(err, client.ErrNotConnected) {
		t.Fatalf("SendPose() error = %v, want ErrNotConnected", err)
	}
}

func TestRosterCallback(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	rosters := make(chan []protocol.PlayerEntry, 4)
	c.SetOnRoster(func(players []protocol.PlayerEntry) {
		rosters <- players
	})

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Drive one broadcast tick by hand instead of running the ticker.
	b := broadcast.New(backend.reg, backend.hub, broadcast.DefaultInterval, discardLogger())
	b.Tick()

	select {
	case players := <-rosters:
		if len(players) != 1 || players[0].PlayerID != "alice" {
			t.Errorf("roster = %+v, want [alice]", players)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("roster callback never fired")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	if c.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if err := c.SendPose(protocol.Pose{}); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("SendPose() after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Disconnect()

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after reconnect")
	}
}

func TestServerDropFiresDisconnectCallback(t *testing.T) {
	t.Parallel()

	backend := startBackend(t)
	c := newClient(t)

	dropped := make(chan error, 1)
	c.SetOnDisconnected(func(err error) {
		dropped <- err
	})

	if err := c.Connect(context.Background(), backend.addr, "alice", testToken); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	backend.hub.DrainAll(session.ReasonShutdown)

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	if c.Connected() {
		t.Error("Connected() = true after server drop")
	}
}

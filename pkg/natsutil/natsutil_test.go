package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type event struct {
	Kind  string `json:"kind"`
	Total int    `json:"total"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)
	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "corpus.test", func(_ context.Context, e event) { ch <- e })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "corpus.test", event{Kind: "affairs", Total: 120}); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-ch:
		if e.Kind != "affairs" || e.Total != 120 {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "corpus.bad", func(context.Context, event) { called <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("corpus.bad", []byte("{bad"))
	nc.Flush()

	select {
	case <-called:
		t.Fatal("handler must not run for malformed data")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishEncodeError(t *testing.T) {
	nc := startTestNATS(t)
	if err := Publish(context.Background(), nc, "corpus.x", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestRequestRespond(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Respond(nc, "corpus.double", func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := Request[int, int](ctx, nc, "corpus.double", 21)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestRequestRemoteError(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Respond(nc, "corpus.fail", func(context.Context, int) (int, error) {
		return 0, errors.New("scraper offline")
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[int, int](context.Background(), nc, "corpus.fail", 1)
	if !IsRemote(err) || !strings.Contains(err.Error(), "scraper offline") {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestRespondMalformedRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Respond(nc, "corpus.typed", func(_ context.Context, e event) (int, error) {
		return e.Total, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[string, int](context.Background(), nc, "corpus.typed", "not an object")
	if !IsRemote(err) || !strings.Contains(err.Error(), "malformed request") {
		t.Fatalf("expected malformed request error, got %v", err)
	}
}

func TestRequestNoResponders(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := Request[int, int](ctx, nc, "corpus.nobody", 1)
	if err == nil {
		t.Fatal("expected error without responders")
	}
	if IsRemote(err) {
		t.Fatalf("transport failure must not look remote: %v", err)
	}
}

func TestRequestBadReply(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("corpus.garbage", func(m *nats.Msg) { m.Respond([]byte("{nope")) })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = Request[int, event](context.Background(), nc, "corpus.garbage", 1)
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tsmaeder/message-rpc/transport"
)

func newPair(t *testing.T, svcMux *ServeMux) (*Client, *Server) {
	t.Helper()
	a, b := transport.Pair()
	srv := NewServer(a, svcMux, nil)
	client := NewClient(b, "rpc", nil, nil)
	return client, srv
}

func TestCallRoundTrip(t *testing.T) {
	svcMux := NewServeMux()
	svcMux.HandleFunc("add", func(args []interface{}) (interface{}, error) {
		a, _ := args[0].(float64)
		b, _ := args[1].(float64)
		return a + b, nil
	})

	client, _ := newPair(t, svcMux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "add", []interface{}{float64(1), float64(2)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.(float64) != 3 {
		t.Fatalf("got %v", result)
	}
}

func TestCallUnknownMethodIsError(t *testing.T) {
	client, _ := newPair(t, NewServeMux())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "missing", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCallHandlerErrorPropagates(t *testing.T) {
	svcMux := NewServeMux()
	boom := errors.New("boom")
	svcMux.HandleFunc("fail", func(args []interface{}) (interface{}, error) {
		return nil, boom
	})

	client, _ := newPair(t, svcMux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "fail", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "boom" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	received := make(chan []interface{}, 1)
	svcMux := NewServeMux()
	svcMux.HandleFunc("ping", func(args []interface{}) (interface{}, error) {
		received <- args
		return nil, nil
	})

	client, _ := newPair(t, svcMux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Notify(ctx, "ping", []interface{}{"hi"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case args := <-received:
		if len(args) != 1 || args[0] != "hi" {
			t.Fatalf("got %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never reached server")
	}
}

func TestHandlerFromFuncBindsStructArg(t *testing.T) {
	type Point struct {
		X, Y float64
	}

	svcMux := NewServeMux()
	svcMux.Handle("dist", HandlerFromFunc(func(p Point) (float64, error) {
		return p.X + p.Y, nil
	}))

	client, _ := newPair(t, svcMux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "dist", []interface{}{
		map[string]interface{}{"X": float64(3), "Y": float64(4)},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.(float64) != 7 {
		t.Fatalf("got %v", result)
	}
}

func TestCallContextCancelSendsCancelFrame(t *testing.T) {
	block := make(chan struct{})
	svcMux := NewServeMux()
	svcMux.HandleFunc("slow", func(args []interface{}) (interface{}, error) {
		<-block
		return "late", nil
	})
	defer close(block)

	client, _ := newPair(t, svcMux)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, "slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}

package mux

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport double that lets tests inject
// inbound frames and observe outbound ones without real I/O.
type fakeTransport struct {
	mu      sync.Mutex
	outbox  [][]byte
	inbox   chan []byte
	closed  bool
	closeCh chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan []byte, 16), closeCh: make(chan struct{})}
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Recv() ([]byte, error) {
	select {
	case b := <-f.inbox:
		return b, nil
	case <-f.closeCh:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeTransport) inject(b []byte) {
	f.inbox <- b
}

func openFrame(id string) []byte {
	w := encodeHeader(OpOpen, id)
	return w.Bytes()
}

func ackOpenFrame(id string) []byte {
	w := encodeHeader(OpAckOpen, id)
	return w.Bytes()
}

func TestAckOpenResolvesPendingOpen(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)
	go m.Loop()
	defer m.Close()

	result := make(chan *Channel, 1)
	go func() {
		ch, err := m.Open(context.Background(), "rpc")
		if err != nil {
			t.Error(err)
			return
		}
		result <- ch
	}()

	// Wait for the Open frame to hit the wire before acking.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ft.mu.Lock()
		n := len(ft.outbox)
		ft.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ft.inject(ackOpenFrame("rpc"))

	select {
	case ch := <-result:
		if ch.ID != "rpc" || ch.State() != Open {
			t.Fatalf("got %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	if m.Lookup("rpc") == nil {
		t.Fatal("expected channel in openChans")
	}
	m.mu.Lock()
	_, pending := m.pendingOpen["rpc"]
	m.mu.Unlock()
	if pending {
		t.Fatal("pendingOpen should be cleared after AckOpen")
	}
}

func TestAckOpenWithoutPendingResolverIsProtocolError(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	err := m.dispatch(ackOpenFrame("ghost"))
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestSimultaneousOpenCollisionResolvesLocalPending(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	result := make(chan *Channel, 1)
	m.mu.Lock()
	resolver := make(opener, 1)
	m.pendingOpen["dup"] = resolver
	m.mu.Unlock()
	go func() {
		select {
		case c := <-resolver:
			result <- c
		case <-time.After(time.Second):
		}
	}()

	if err := m.dispatch(openFrame("dup")); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-result:
		if ch == nil || ch.ID != "dup" {
			t.Fatalf("got %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("collision did not resolve the pending Open")
	}

	m.mu.Lock()
	_, stillPending := m.pendingOpen["dup"]
	_, open := m.openChans["dup"]
	m.mu.Unlock()
	if stillPending {
		t.Fatal("pendingOpen should be cleared on collision")
	}
	if !open {
		t.Fatal("channel should be in openChans")
	}
}

func TestAtMostOneOpenPerID(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	m.mu.Lock()
	m.pendingOpen["id"] = make(opener, 1)
	m.mu.Unlock()

	if err := m.dispatch(openFrame("id")); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	_, pending := m.pendingOpen["id"]
	_, open := m.openChans["id"]
	m.mu.Unlock()

	if pending && open {
		t.Fatal("id present in both pendingOpen and openChans")
	}
	if !open {
		t.Fatal("expected id to be open")
	}
}

func TestDataForUnknownIDIsDropped(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	w := encodeHeader(OpData, "nobody")
	frame := append(w.Bytes(), []byte("payload")...)

	if err := m.dispatch(frame); err != nil {
		t.Fatalf("dropping unknown data should not error, got %v", err)
	}
}

func TestUnknownOpcodeIsFramingError(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	err := m.dispatch([]byte{0xFF, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error")
	}
	var ferr *FramingError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FramingError, got %T", err)
	}
}

func TestOnOpenChannelFiresForPassiveOpen(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	var got *Channel
	m.OnOpenChannel(func(ch *Channel) { got = ch })

	if err := m.dispatch(openFrame("srv")); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "srv" {
		t.Fatalf("got %+v", got)
	}
}

func TestCascadeErrorDoesNotMutateState(t *testing.T) {
	ft := newFakeTransport()
	m := New(ft)

	if err := m.dispatch(openFrame("peer-opened")); err != nil {
		t.Fatal(err)
	}

	var gotErr error
	ch := m.Lookup("peer-opened")
	ch.OnError(func(err error) { gotErr = err })

	boom := errors.New("boom")
	m.cascadeError(boom)

	if gotErr != boom {
		t.Fatalf("got %v", gotErr)
	}
	if m.Lookup("peer-opened") == nil {
		t.Fatal("cascadeError must not remove channels")
	}
}

package memory

import (
	"context"
	"testing"
	"time"
)

func TestSendBytesDeliversToTarget(t *testing.T) {
	net := NewNetwork()
	a := net.NewTransport("a", "Alice")
	b := net.NewTransport("b", "Bob")
	ctx := context.Background()

	if err := a.SendBytes(ctx, b.Device(), []byte("hello"), 0); err != nil {
		t.Fatalf("SendBytes() error = %v", err)
	}

	select {
	case ib := <-b.Incoming():
		if string(ib.Data) != "hello" {
			t.Fatalf("Incoming() data = %q, want %q", ib.Data, "hello")
		}
		if ib.Device.Address != "a" {
			t.Fatalf("Incoming() device = %q, want %q", ib.Device.Address, "a")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestDiscoverDevicesExcludesSelf(t *testing.T) {
	net := NewNetwork()
	a := net.NewTransport("a", "Alice")
	net.NewTransport("b", "Bob")
	ctx := context.Background()

	devices, err := a.DiscoverDevices(ctx, 0)
	if err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Address != "b" {
		t.Fatalf("DiscoverDevices() = %v, want [b]", devices)
	}
}

func TestShutdownIsIdempotentAndClosesChannel(t *testing.T) {
	net := NewNetwork()
	a := net.NewTransport("a", "Alice")
	ctx := context.Background()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if _, ok := <-a.Incoming(); ok {
		t.Fatalf("Incoming() channel should be closed after Shutdown")
	}
}

func TestSendBytesToUnknownDeviceFails(t *testing.T) {
	net := NewNetwork()
	a := net.NewTransport("a", "Alice")
	ctx := context.Background()

	err := a.SendBytes(ctx, a.Device(), []byte("x"), 0)
	if err != nil {
		t.Fatalf("SendBytes(self) error = %v", err)
	}

	ghost := a.Device()
	ghost.Address = "ghost"
	if err := a.SendBytes(ctx, ghost, []byte("x"), 0); err == nil {
		t.Fatalf("SendBytes(unknown device) = nil error, want error")
	}
}

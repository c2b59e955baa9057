package netchan

import (
	"math/rand"
	"net"
	"testing"
	"time"
)

func mustBind(t *testing.T, cfg Config) *Channel {
	t.Helper()
	ch, err := Bind("127.0.0.1", cfg)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestBypassModeRoundTrip(t *testing.T) {
	a := mustBind(t, Config{PreferredPort: 41000})
	b := mustBind(t, Config{PreferredPort: 41010})

	if err := a.SendTo(b.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, data, ok := b.RecvFrom(); ok {
			if string(data) != "hello" {
				t.Fatalf("got %q, want hello", data)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for bypass-mode datagram")
}

func TestLagDelaysDelivery(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	a := mustBind(t, Config{PreferredPort: 41020})
	b := mustBind(t, Config{
		PreferredPort: 41030,
		LagMs:         Interval{Min: 80, Max: 80},
		Rand:          src,
	})

	sentAt := time.Now()
	if err := a.SendTo(b.LocalAddr(), []byte("delayed")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	// Immediately after sending, the packet should not be delivered yet —
	// it's still sitting in the delay queue.
	time.Sleep(10 * time.Millisecond)
	if _, _, ok := b.RecvFrom(); ok {
		t.Fatal("expected packet to still be delayed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, data, ok := b.RecvFrom(); ok {
			if string(data) != "delayed" {
				t.Fatalf("got %q, want delayed", data)
			}
			if time.Since(sentAt) < 70*time.Millisecond {
				t.Fatalf("delivered too early: %v", time.Since(sentAt))
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for delayed datagram")
}

func TestFullLossDropsEverything(t *testing.T) {
	src := rand.New(rand.NewSource(2))
	a := mustBind(t, Config{PreferredPort: 41040})
	b := mustBind(t, Config{
		PreferredPort: 41050,
		LossPercent:   Interval{Min: 1, Max: 1},
		Rand:          src,
	})

	for i := 0; i < 5; i++ {
		a.SendTo(b.LocalAddr(), []byte("x"))
	}
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if _, _, ok := b.RecvFrom(); ok {
			t.Fatal("expected 100% loss interval to drop every packet")
		}
	}
}

func TestDrainAllInvokesCallbackPerMaturedPacket(t *testing.T) {
	a := mustBind(t, Config{PreferredPort: 41060})
	b := mustBind(t, Config{PreferredPort: 41070})

	a.SendTo(b.LocalAddr(), []byte("one"))
	a.SendTo(b.LocalAddr(), []byte("two"))

	deadline := time.Now().Add(2 * time.Second)
	got := map[string]bool{}
	for time.Now().Before(deadline) && len(got) < 2 {
		b.DrainAll(func(addr *net.UDPAddr, data []byte) {
			got[string(data)] = true
		})
		time.Sleep(time.Millisecond)
	}
	if !got["one"] || !got["two"] {
		t.Fatalf("DrainAll delivered %v, want one and two", got)
	}
}

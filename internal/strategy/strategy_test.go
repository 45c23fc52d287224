package strategy

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/nullma/ttquant/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSink struct {
	orders []types.Order
}

func (f *fakeSink) SendOrder(o types.Order) error {
	f.orders = append(f.orders, o)
	return nil
}

func TestRegistryPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(NewEMACross("s1", "BTCUSDT", 3, 5, 1, testLogger()))
	r.Register(NewEMACross("s2", "ETHUSDT", 3, 5, 1, testLogger()))
	r.Register(NewEMACross("s3", "SOLUSDT", 3, 5, 1, testLogger()))

	got := r.IDs()
	want := []string{"s1", "s2", "s3"}
	for i, id := range want {
		if got[i] != id {
			t.Fatalf("IDs() = %v, want %v", got, want)
		}
	}
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(NewEMACross("s1", "BTCUSDT", 3, 5, 1, testLogger()))
	r.Register(NewEMACross("s2", "ETHUSDT", 3, 5, 1, testLogger()))
	r.Register(NewEMACross("s1", "BTCUSDT", 4, 6, 2, testLogger()))

	got := r.IDs()
	if len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("IDs() = %v, want [s1 s2]", got)
	}
	s, ok := r.Get("s1")
	if !ok {
		t.Fatal("Get(s1) not found")
	}
	if s.(*EMACross).orderVolume != 2 {
		t.Fatalf("replaced strategy not in effect")
	}
}

func TestNextOrderIDFormatAndUniqueness(t *testing.T) {
	t.Parallel()

	a := NextOrderID("emacross")
	b := NextOrderID("emacross")
	if a == b {
		t.Fatalf("NextOrderID produced duplicate IDs: %q", a)
	}
	if !strings.HasPrefix(a, "emacross_") {
		t.Fatalf("NextOrderID(%q) = %q, want emacross_ prefix", "emacross", a)
	}
}

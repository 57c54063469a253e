package fees

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"custody-ledger/internal/domain"
)

func policy(bps, p, c, a int64) domain.FeePolicy {
	return domain.FeePolicy{Key: "test", TotalBps: bps, ProtocolPct: p, CharityPct: c, AcademyPct: a}
}

func TestSplit_Example(t *testing.T) {
	// 1.00000000 BTC, 10%, 60/30/10
	got, err := Split(100000000, policy(1000, 60, 30, 10))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	want := domain.FeeBreakdown{
		Gross:    100000000,
		TotalFee: 10000000,
		Protocol: 6000000,
		Charity:  3000000,
		Academy:  1000000,
		Net:      90000000,
	}
	if got != want {
		t.Errorf("Split() = %+v, want %+v", got, want)
	}
}

func TestSplit_OnePercent(t *testing.T) {
	// 1.00000000 BTC at 1%: fee 0.01, net 0.99
	got, err := Split(100000000, policy(100, 60, 30, 10))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got.TotalFee != 1000000 || got.Protocol != 600000 || got.Charity != 300000 || got.Academy != 100000 || got.Net != 99000000 {
		t.Errorf("Split() = %+v", got)
	}
}

func TestSplit_RemainderGoesToAcademy(t *testing.T) {
	// fee 7: protocol floor(4.2)=4, charity floor(2.1)=2, academy 1
	got, err := Split(700, policy(100, 60, 30, 10))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got.TotalFee != 7 || got.Protocol != 4 || got.Charity != 2 || got.Academy != 1 {
		t.Errorf("Split() = %+v", got)
	}
}

func TestSplit_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy domain.FeePolicy
	}{
		{"shares sum to 90", policy(100, 60, 20, 10)},
		{"shares sum to 110", policy(100, 60, 40, 10)},
		{"negative bps", policy(-1, 60, 30, 10)},
		{"bps above 100%", policy(10001, 60, 30, 10)},
		{"negative share", policy(100, 110, -20, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Split(1000, tt.policy); !errors.Is(err, domain.ErrInvalidPolicy) {
				t.Errorf("Split() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestSplit_MinFee(t *testing.T) {
	p := policy(10, 60, 30, 10)
	p.MinFee = 500

	got, err := Split(10000, p)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got.TotalFee != 500 || got.Net != 9500 {
		t.Errorf("Split() = %+v, want fee raised to minimum", got)
	}

	if _, err := Split(400, p); !errors.Is(err, domain.ErrBelowMinimum) {
		t.Errorf("Split() error = %v, want ErrBelowMinimum", err)
	}
}

func TestSplit_NoOverflow(t *testing.T) {
	got, err := Split(math.MaxInt64, policy(10000, 60, 30, 10))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got.TotalFee != math.MaxInt64 || got.Net != 0 {
		t.Errorf("Split() = %+v", got)
	}
}

// TestSplit_Exactness checks the split invariants over random inputs.
func TestSplit_Exactness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		gross := rng.Int63n(1 << 48)
		bps := rng.Int63n(10001)
		p := rng.Int63n(101)
		c := rng.Int63n(101 - p)
		a := 100 - p - c

		got, err := Split(gross, policy(bps, p, c, a))
		if err != nil {
			t.Fatalf("Split(%d, %d, %d/%d/%d): %v", gross, bps, p, c, a, err)
		}

		wantFee := gross * bps / 10000
		if got.TotalFee != wantFee {
			t.Fatalf("TotalFee = %d, want %d", got.TotalFee, wantFee)
		}
		if got.Protocol+got.Charity+got.Academy != got.TotalFee {
			t.Fatalf("shares %+v do not sum to total fee", got)
		}
		if got.Net+got.TotalFee != gross {
			t.Fatalf("net + fee != gross: %+v", got)
		}
		if got.Academy < 0 || got.Protocol < 0 || got.Charity < 0 {
			t.Fatalf("negative share: %+v", got)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	base := domain.FeePolicy{Key: "bridge", TotalBps: 10, ProtocolPct: 60, CharityPct: 30, AcademyPct: 10}
	usdt := base
	usdt.Key = "bridge.USDT"
	usdt.MinFee = 1000000

	r, err := NewRegistry([]domain.FeePolicy{base, usdt})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got, err := r.Lookup("bridge", "USDT")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Key != "bridge.USDT" {
		t.Errorf("Lookup(bridge, USDT) = %s, want asset override", got.Key)
	}

	got, err = r.Lookup("bridge", "BTC")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Key != "bridge" {
		t.Errorf("Lookup(bridge, BTC) = %s, want base policy", got.Key)
	}

	if _, err := r.Lookup("swap", "BTC"); !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Errorf("Lookup(swap) error = %v, want ErrInvalidPolicy", err)
	}
}

func TestNewRegistry_RejectsInvalid(t *testing.T) {
	_, err := NewRegistry([]domain.FeePolicy{policy(100, 50, 30, 10)})
	if !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Errorf("NewRegistry() error = %v, want ErrInvalidPolicy", err)
	}
}

func TestAllocate(t *testing.T) {
	got, err := Allocate(1000, 7, policy(100, 60, 30, 10))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got.Protocol != 4 || got.Charity != 2 || got.Academy != 1 || got.Net != 993 {
		t.Errorf("Allocate() = %+v", got)
	}

	if _, err := Allocate(5, 7, policy(100, 60, 30, 10)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Allocate() error = %v, want ErrInvalidAmount", err)
	}
}

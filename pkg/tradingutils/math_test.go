package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuantizeToStep(t *testing.T) {
	tests := []struct {
		name string
		qty  string
		step string
		want string
	}{
		{"floors to step", "0.12345", "0.001", "0.123"},
		{"exact multiple unchanged", "0.5", "0.1", "0.5"},
		{"below one step rounds to zero", "0.0004", "0.001", "0"},
		{"zero step is passthrough", "0.12345", "0", "0.12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuantizeToStep(d(tt.qty), d(tt.step))
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}
}

func TestAlignToTick(t *testing.T) {
	tests := []struct {
		name  string
		price string
		tick  string
		want  string
	}{
		{"rounds down to nearer tick", "50000.123", "0.01", "50000.12"},
		{"rounds up to nearer tick", "50000.128", "0.01", "50000.13"},
		{"coarse tick", "50003", "5", "50005"},
		{"zero tick is passthrough", "50000.123", "0", "50000.123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlignToTick(d(tt.price), d(tt.tick))
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}
}

func TestNetProfit(t *testing.T) {
	// 100 -> 110 with 0.1% fees on both legs: 10 - 0.1 - 0.11 = 9.79
	got := NetProfit(d("100"), d("110"), d("0.001"), d("0.001"))
	assert.True(t, got.Equal(d("9.79")), "got %s", got)

	// losing round trip still pays fees
	got = NetProfit(d("100"), d("95"), d("0.001"), d("0.001"))
	assert.True(t, got.Equal(d("-5.195")), "got %s", got)
}

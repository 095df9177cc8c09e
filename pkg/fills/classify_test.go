package fills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCoin(t *testing.T) {
	tests := []struct {
		coin       string
		wantSpot   bool
		wantPerp   bool
	}{
		{"BTC", false, true},
		{"ETH", false, true},
		{"PURR/USDC", true, false},
		{"@1", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.coin, func(t *testing.T) {
			isSpot, isPerp := ClassifyCoin(tt.coin)
			assert.Equal(t, tt.wantSpot, isSpot)
			assert.Equal(t, tt.wantPerp, isPerp)
		})
	}
}

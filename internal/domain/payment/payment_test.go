package payment

import (
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

func TestNewReference(t *testing.T) {
	pattern := regexp.MustCompile(`^PAY_[0-9A-F]{16}$`)
	seen := make(map[string]struct{})
	for range 100 {
		ref := NewReference()
		assert.Regexp(t, pattern, ref)
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}

func TestAmountInSubunit(t *testing.T) {
	p := &Payment{Amount: decimal.RequireFromString("11750.50")}
	assert.Equal(t, int64(1175050), p.AmountInSubunit())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestNew(t *testing.T) {
	o := &order.Order{ID: "o1", UserID: "u1", Total: decimal.NewFromInt(11750)}

	t.Run("creates a pending NGN payment", func(t *testing.T) {
		p, err := New(o, decimal.NewFromInt(11750), "paystack", "ada@example.com", "Ada Obi", "+2348000000000")
		require.NoError(t, err)

		assert.Equal(t, StatusPending, p.Status)
		assert.Equal(t, "NGN", p.Currency)
		assert.Equal(t, "o1", p.OrderID)
		assert.Equal(t, "u1", p.UserID)
		assert.Regexp(t, `^PAY_[0-9A-F]{16}$`, p.Reference)
	})

	t.Run("rejects amounts that drift from the order total", func(t *testing.T) {
		_, err := New(o, decimal.NewFromInt(10000), "paystack", "ada@example.com", "", "")
		assert.ErrorIs(t, err, ErrAmountMismatch)
	})

	t.Run("requires a customer email", func(t *testing.T) {
		_, err := New(o, decimal.NewFromInt(11750), "paystack", "", "", "")
		assert.Error(t, err)
	})
}

package order

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigester_Compute(t *testing.T) {
	dg := Digester{Merchant: "shop@example.com"}
	items := []Item{
		{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("50.00")},
		{ProductID: 9, Quantity: 1, Price: decimal.RequireFromString("3.5")},
	}

	sum := sha256.Sum256([]byte("USD|shop@example.com|abcd|1|2|50.00|9|1|3.50"))
	assert.Equal(t, hex.EncodeToString(sum[:]), dg.Compute("USD", "abcd", items))
}

func TestDigester_Compute_Sensitivity(t *testing.T) {
	dg := Digester{Merchant: "m"}
	base := []Item{
		{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("10.00")},
		{ProductID: 2, Quantity: 1, Price: decimal.RequireFromString("5.00")},
	}
	ref := dg.Compute("USD", "salt", base)

	tests := []struct {
		name     string
		dg       Digester
		currency string
		salt     string
		items    []Item
	}{
		{name: "currency", dg: dg, currency: "EUR", salt: "salt", items: base},
		{name: "merchant", dg: Digester{Merchant: "other"}, currency: "USD", salt: "salt", items: base},
		{name: "salt", dg: dg, currency: "USD", salt: "pepper", items: base},
		{name: "item order", dg: dg, currency: "USD", salt: "salt", items: []Item{base[1], base[0]}},
		{name: "quantity", dg: dg, currency: "USD", salt: "salt", items: []Item{
			{ProductID: 1, Quantity: 3, Price: base[0].Price}, base[1],
		}},
		{name: "price", dg: dg, currency: "USD", salt: "salt", items: []Item{
			{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("9.99")}, base[1],
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, ref, tt.dg.Compute(tt.currency, tt.salt, tt.items))
		})
	}
}

func TestDigester_Verify_PriceScaleIndependent(t *testing.T) {
	dg := Digester{Merchant: "m"}
	committed := []Item{{ProductID: 1, Quantity: 2, Price: decimal.NewFromInt(50)}}
	o := &Order{
		Salt:   "s",
		Digest: dg.Compute("USD", "s", committed),
		// As read back from a NUMERIC(10,2) column.
		Items: []Item{{ProductID: 1, Quantity: 2, Price: decimal.RequireFromString("50.00")}},
	}

	assert.True(t, dg.Verify(o, "USD"))
	assert.False(t, dg.Verify(o, "EUR"))

	o.Items[0].Quantity = 3
	assert.False(t, dg.Verify(o, "USD"))
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)

	assert.Len(t, a, 2*SaltSize)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}

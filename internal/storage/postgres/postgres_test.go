package postgres

import (
	"net"
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/pkg/retry"
)

func TestWrap_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "network", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrap(tt.err, "op")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.transient, retry.IsTransient(err))
		})
	}
	assert.NoError(t, wrap(nil, "op"))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: providerTxnConstraint}
	assert.True(t, isUniqueViolation(errors.Wrap(dup, "insert"), providerTxnConstraint))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "other"}, providerTxnConstraint))
	assert.False(t, isUniqueViolation(errors.New("x"), providerTxnConstraint))
}

func TestDecodeCondition(t *testing.T) {
	t.Run("buy x get y", func(t *testing.T) {
		for name, c := range map[string]struct {
			raw  string
			want discount.BuyXGetYFree
		}{
			"stored keys":    {`{"buy_quantity":3,"free_quantity":1}`, discount.BuyXGetYFree{Buy: 3, Free: 1}},
			"short aliases":  {`{"buy":2,"free":1,"note":"x"}`, discount.BuyXGetYFree{Buy: 2, Free: 1}},
			"zero free kept": {`{"buy_quantity":2,"free_quantity":0}`, discount.BuyXGetYFree{Buy: 2}},
			"missing fields": {`{}`, discount.BuyXGetYFree{}},
		} {
			t.Run(name, func(t *testing.T) {
				r := discount.Rule{Type: discount.TypeBuyXGetYFree}
				require.NoError(t, DecodeCondition(&r, []byte(c.raw)))
				require.NotNil(t, r.BuyXGetYFree)
				assert.Equal(t, c.want, *r.BuyXGetYFree)
			})
		}
	})
	t.Run("tiered with string and number prices", func(t *testing.T) {
		r := discount.Rule{Type: discount.TypeTiered}
		raw := `{"tiers":[{"quantity":3,"total_price":"25.00"},{"quantity":5,"total_price":40}]}`
		require.NoError(t, DecodeCondition(&r, []byte(raw)))
		require.Len(t, r.Tiers, 2)
		assert.Equal(t, 3, r.Tiers[0].Quantity)
		assert.True(t, decimal.RequireFromString("25").Equal(r.Tiers[0].TotalPrice))
		assert.True(t, decimal.RequireFromString("40").Equal(r.Tiers[1].TotalPrice))
	})
	t.Run("invalid", func(t *testing.T) {
		for name, c := range map[string]struct {
			typ discount.Type
			raw string
		}{
			"string buy":   {discount.TypeBuyXGetYFree, `{"buy_quantity":"two","free_quantity":1}`},
			"bad json":     {discount.TypeTiered, `{"tiers":[`},
			"bad price":    {discount.TypeTiered, `{"tiers":[{"quantity":1,"total_price":"ten"}]}`},
			"unknown type": {discount.Type("percent"), `{}`},
		} {
			t.Run(name, func(t *testing.T) {
				r := discount.Rule{Type: c.typ}
				assert.Error(t, DecodeCondition(&r, []byte(c.raw)))
			})
		}
	})
}

func TestEncodeCondition(t *testing.T) {
	rule := discount.Rule{
		Type:  discount.TypeTiered,
		Tiers: []discount.Tier{{Quantity: 3, TotalPrice: decimal.RequireFromString("25")}},
	}
	raw, err := EncodeCondition(rule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tiers":[{"quantity":3,"total_price":"25.00"}]}`, string(raw))

	raw, err = EncodeCondition(discount.Rule{
		Type:         discount.TypeBuyXGetYFree,
		BuyXGetYFree: &discount.BuyXGetYFree{Buy: 3, Free: 1},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"buy_quantity":3,"free_quantity":1}`, string(raw))

	_, err = EncodeCondition(discount.Rule{Type: discount.TypeBuyXGetYFree})
	assert.Error(t, err)
}

package payment_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/storage/memstore"
)

func fastStatus(s payment.Store) *payment.StatusService {
	return payment.NewStatusService(s, payment.StatusConfig{Attempts: 3, Interval: time.Millisecond})
}

func TestStatus_NotFoundAfterBound(t *testing.T) {
	s := &flakyStore{Store: memstore.New()}
	o := seedOrder(t, s.Store)

	_, err := fastStatus(s).Status(context.Background(), o.ID)
	require.ErrorIs(t, err, payment.ErrTransactionNotFound)
	assert.Equal(t, 3, s.latestCalls)
}

func TestStatus_Found(t *testing.T) {
	s := &flakyStore{Store: memstore.New()}
	o := seedOrder(t, s.Store)
	_, err := payment.NewIngestor(s.Store, digester).Ingest(context.Background(), completed(o, "TXN-1"))
	require.NoError(t, err)

	got, err := fastStatus(s).Status(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	assert.Equal(t, 1, s.latestCalls)
}

func TestStatus_TransientErrorContinues(t *testing.T) {
	s := &flakyStore{Store: memstore.New()}
	o := seedOrder(t, s.Store)
	_, err := payment.NewIngestor(s.Store, digester).Ingest(context.Background(), completed(o, "TXN-1"))
	require.NoError(t, err)
	s.latestErrs = []error{errors.New("conn reset")}

	got, err := fastStatus(s).Status(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", got.ProviderTxnID)
	assert.Equal(t, 2, s.latestCalls)
}

func TestStatus_FinalAttemptErrorSurfaces(t *testing.T) {
	s := &flakyStore{Store: memstore.New()}
	o := seedOrder(t, s.Store)
	cause := errors.New("conn reset")
	s.latestErrs = []error{nil, nil, cause}

	_, err := fastStatus(s).Status(context.Background(), o.ID)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, payment.ErrTransactionNotFound)
}

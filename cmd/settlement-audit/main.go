// Command settlement-audit compares provider settlement exports with the
// transactions recorded by the shop and prints completed settlements that
// were never recorded.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/GaryWong163/Online-shop/internal/domain/payment"
	"github.com/GaryWong163/Online-shop/internal/storage/postgres"
)

const progressEvery = 100_000

// Settlement export columns, matched case-insensitively against the header.
const (
	colTxnID    = "transaction_id"
	colInvoice  = "invoice"
	colStatus   = "status"
	colGross    = "gross"
	colCurrency = "currency"
)

// settlement is one completed row of an export.
type settlement struct {
	File     string
	TxnID    string
	Invoice  string
	Amount   decimal.Decimal
	Currency string
}

func main() {
	var (
		reportsDir  string
		databaseURL string
		capacity    uint
		fpr         float64
	)

	flag.StringVar(&reportsDir, "reports-dir", "settlements", "directory containing *.csv.gz settlement exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&capacity, "expected-transactions", 10_000_000, "bloom filter capacity")
	flag.Float64Var(&fpr, "false-positive-rate", 0.0001, "bloom filter false positive rate; a false positive hides a missing row")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	missing, err := run(ctx, reportsDir, databaseURL, capacity, fpr)
	if err != nil {
		slog.Error("settlement audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := writeMissing(os.Stdout, missing); err != nil {
		slog.Error("write report failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("settlement audit completed", slog.Int("missing", len(missing)))
	if len(missing) > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, reportsDir, databaseURL string, capacity uint, fpr float64) ([]settlement, error) {
	files, err := filepath.Glob(filepath.Join(reportsDir, "*.csv.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list reports")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no *.csv.gz reports in %s", reportsDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Pass 1: load recorded provider ids into a bloom filter.
	slog.Info("pass 1: loading recorded transactions")

	filter := bloom.NewWithEstimates(capacity, fpr)
	var recorded uint64
	if err := postgres.NewTransactionStore(pool).RecordedProviderIDs(ctx, func(id string) error {
		filter.AddString(id)
		recorded++
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "load recorded transactions")
	}

	slog.Info("pass 1 complete", slog.Uint64("recorded", recorded))

	// Pass 2: stream every report concurrently.
	slog.Info("pass 2: scanning settlement reports", slog.Int("files", len(files)))

	return findMissing(ctx, files, filter)
}

// findMissing returns completed settlements whose provider id is definitely
// absent from filter.
func findMissing(ctx context.Context, files []string, filter *bloom.BloomFilter) ([]settlement, error) {
	var (
		mu      sync.Mutex
		missing []settlement
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			var rows, found uint64
			err := streamReport(ctx, path, func(s settlement) {
				rows++
				if rows%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", filepath.Base(path)), slog.Uint64("rows", rows))
				}
				if filter.TestString(s.TxnID) {
					return
				}
				found++
				mu.Lock()
				missing = append(missing, s)
				mu.Unlock()
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}

			slog.Info("pass 2 complete",
				slog.String("file", filepath.Base(path)),
				slog.Uint64("completed_rows", rows),
				slog.Uint64("missing", found),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return missing, nil
}

// streamReport opens a gzip-compressed CSV export and calls fn for each row
// whose status normalizes to Completed.
func streamReport(ctx context.Context, path string, fn func(settlement)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return scanReport(ctx, filepath.Base(path), gz, fn)
}

func scanReport(ctx context.Context, name string, r io.Reader, fn func(settlement)) error {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range []string{colTxnID, colStatus, colGross} {
		if _, ok := cols[c]; !ok {
			return errors.Errorf("missing column %q", c)
		}
	}
	get := func(rec []string, col string) string {
		if i, ok := cols[col]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if payment.NormalizeStatus(get(rec, colStatus)) != payment.StatusCompleted {
			continue
		}
		amount, err := decimal.NewFromString(get(rec, colGross))
		if err != nil {
			return errors.Wrapf(err, "line %d: gross", line)
		}
		fn(settlement{
			File:     name,
			TxnID:    get(rec, colTxnID),
			Invoice:  get(rec, colInvoice),
			Amount:   amount,
			Currency: strings.ToUpper(get(rec, colCurrency)),
		})
	}
}

func writeMissing(w io.Writer, missing []settlement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", colTxnID, colInvoice, colGross, colCurrency}); err != nil {
		return err
	}
	for _, s := range missing {
		if err := cw.Write([]string{s.File, s.TxnID, s.Invoice, s.Amount.StringFixed(2), s.Currency}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

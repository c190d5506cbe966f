package order

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// SaltSize is the number of random bytes in an order salt.
const SaltSize = 16

// NewSalt returns SaltSize random bytes, hex-encoded.
func NewSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "read random salt")
	}
	return hex.EncodeToString(b), nil
}

// Digester derives order digests bound to one merchant identity.
type Digester struct {
	Merchant string
}

// Compute returns the hex SHA-256 digest of
// currency|merchant|salt|productID|quantity|price|... with items in the given
// order. Prices are always rendered with two decimals, so a digest computed
// at commitment matches one recomputed from NUMERIC(10,2) columns.
func (d Digester) Compute(currency, salt string, items []Item) string {
	fields := make([]string, 0, 3+3*len(items))
	fields = append(fields, currency, d.Merchant, salt)
	for _, it := range items {
		fields = append(fields,
			strconv.FormatInt(it.ProductID, 10),
			strconv.Itoa(it.Quantity),
			it.Price.StringFixed(2),
		)
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of o for currency and compares it with the
// stored one in constant time.
func (d Digester) Verify(o *Order, currency string) bool {
	want := d.Compute(currency, o.Salt, o.Items)
	return subtle.ConstantTimeCompare([]byte(want), []byte(o.Digest)) == 1
}

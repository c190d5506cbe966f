package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
)

var (
	_ product.Repository  = (*ProductRepository)(nil)
	_ discount.Repository = (*DiscountRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{db: pool}
}

const getProductsByIDs = `SELECT id, name, price FROM products WHERE id = ANY($1) ORDER BY id`

// GetByIDs returns the products that exist among ids. Missing ids are
// silently skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, getProductsByIDs, ids)
	if err != nil {
		return nil, wrap(err, "query products")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price)
		return p, err
	})
	if err != nil {
		return nil, wrap(err, "scan products")
	}
	return out, nil
}

const (
	insertProduct = `INSERT INTO products (name, price) VALUES ($1, $2) RETURNING id`

	upsertProduct = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`

	syncProductSeq = `SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))`
)

// Upsert stores p. A zero p.ID inserts a new product and fills in its id;
// otherwise the product with that id is created or replaced.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	if p.ID == 0 {
		return wrap(r.db.QueryRow(ctx, insertProduct, p.Name, p.Price).Scan(&p.ID), "insert product")
	}
	if _, err := r.db.Exec(ctx, upsertProduct, p.ID, p.Name, p.Price); err != nil {
		return wrap(err, "upsert product")
	}
	// Explicit ids bypass the sequence.
	if _, err := r.db.Exec(ctx, syncProductSeq); err != nil {
		return wrap(err, "sync product sequence")
	}
	return nil
}

// DiscountRepository implements discount.Repository backed by PostgreSQL.
// Rule conditions are stored as JSONB.
type DiscountRepository struct {
	db DBTX
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{db: pool}
}

const (
	listDiscounts = `SELECT id, product_id, type, condition, description FROM discounts ORDER BY product_id`

	listDiscountsByProducts = `SELECT id, product_id, type, condition, description
FROM discounts WHERE product_id = ANY($1) ORDER BY product_id`
)

// List returns every discount rule.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Rule, error) {
	return r.query(ctx, listDiscounts)
}

// ListByProductIDs returns the rules attached to the given products.
func (r *DiscountRepository) ListByProductIDs(ctx context.Context, ids []int64) ([]discount.Rule, error) {
	return r.query(ctx, listDiscountsByProducts, ids)
}

const upsertDiscount = `INSERT INTO discounts (product_id, type, condition, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_id) DO UPDATE
SET type = EXCLUDED.type, condition = EXCLUDED.condition, description = EXCLUDED.description
RETURNING id`

// Upsert replaces the rule attached to rule.ProductID and fills in its id.
func (r *DiscountRepository) Upsert(ctx context.Context, rule *discount.Rule) error {
	condition, err := EncodeCondition(*rule)
	if err != nil {
		return errors.Wrapf(err, "encode discount for product %d", rule.ProductID)
	}
	err = r.db.QueryRow(ctx, upsertDiscount, rule.ProductID, string(rule.Type), condition, rule.Description).Scan(&rule.ID)
	return wrap(err, "upsert discount")
}

func (r *DiscountRepository) query(ctx context.Context, sql string, args ...any) ([]discount.Rule, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap(err, "query discounts")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.Rule, error) {
		var (
			rule      discount.Rule
			condition []byte
		)
		if err := row.Scan(&rule.ID, &rule.ProductID, &rule.Type, &condition, &rule.Description); err != nil {
			return rule, err
		}
		if err := DecodeCondition(&rule, condition); err != nil {
			return rule, errors.Wrapf(err, "discount %d", rule.ID)
		}
		return rule, nil
	})
	if err != nil {
		return nil, wrap(err, "scan discounts")
	}
	return out, nil
}

// DecodeCondition fills the type-specific part of rule from its JSON
// condition. Buy-x-get-y rules carry {"buy_quantity":n,"free_quantity":m}
// ("buy"/"free" are read as aliases); tiered rules carry
// {"tiers":[{"quantity":n,"total_price":p}]}. Out-of-range values are kept;
// pricing bills such rules at the unit price.
func DecodeCondition(rule *discount.Rule, raw []byte) error {
	d := jx.DecodeBytes(raw)
	switch rule.Type {
	case discount.TypeBuyXGetYFree:
		var b discount.BuyXGetYFree
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "buy_quantity", "buy":
				n, err := d.Int()
				b.Buy = n
				return err
			case "free_quantity", "free":
				n, err := d.Int()
				b.Free = n
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return errors.Wrap(err, "decode buy_x_get_y_free condition")
		}
		rule.BuyXGetYFree = &b
	case discount.TypeTiered:
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			if key != "tiers" {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				var t discount.Tier
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "quantity":
						n, err := d.Int()
						t.Quantity = n
						return err
					case "total_price":
						p, err := decodeDecimal(d)
						t.TotalPrice = p
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				rule.Tiers = append(rule.Tiers, t)
				return nil
			})
		}); err != nil {
			return errors.Wrap(err, "decode tiered_pricing condition")
		}
	default:
		return errors.Errorf("unknown discount type %q", rule.Type)
	}
	return nil
}

// EncodeCondition is the inverse of DecodeCondition.
func EncodeCondition(rule discount.Rule) ([]byte, error) {
	var e jx.Encoder
	switch rule.Type {
	case discount.TypeBuyXGetYFree:
		if rule.BuyXGetYFree == nil {
			return nil, errors.New("buy_x_get_y_free rule without condition")
		}
		e.Obj(func(e *jx.Encoder) {
			e.Field("buy_quantity", func(e *jx.Encoder) { e.Int(rule.BuyXGetYFree.Buy) })
			e.Field("free_quantity", func(e *jx.Encoder) { e.Int(rule.BuyXGetYFree.Free) })
		})
	case discount.TypeTiered:
		e.Obj(func(e *jx.Encoder) {
			e.Field("tiers", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, t := range rule.Tiers {
						e.Obj(func(e *jx.Encoder) {
							e.Field("quantity", func(e *jx.Encoder) { e.Int(t.Quantity) })
							e.Field("total_price", func(e *jx.Encoder) { e.Str(t.TotalPrice.StringFixed(2)) })
						})
					}
				})
			})
		})
	default:
		return nil, errors.Errorf("unknown discount type %q", rule.Type)
	}
	return e.Bytes(), nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for decimal", d.Next())
	}
}

// Package identity verifies the identity token issued by the external
// session service.
package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when a request carries no identity token.
var ErrNoToken = errors.New("no identity token")

// Role is the authorization role carried by the token.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller may see every order.
func (i *Identity) IsAdmin() bool { return i != nil && i.Role == RoleAdmin }

// UserRef is a user id that may be encoded as a JSON string or number.
type UserRef string

// UnmarshalJSON accepts both "42" and 42.
func (u *UserRef) UnmarshalJSON(b []byte) error {
	d := jx.DecodeBytes(b)
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		*u = UserRef(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*u = UserRef(n.String())
	default:
		return errors.Errorf("unexpected userId type %s", d.Next())
	}
	return nil
}

// Claims is the token payload.
type Claims struct {
	UserID UserRef `json:"userId"`
	Role   Role    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var signingMethod = jwt.SigningMethodHS256

// Config configures token verification.
type Config struct {
	Secret string
	Issuer string
	Cookie string
}

// Verifier parses HS256 identity tokens.
type Verifier struct {
	secret []byte
	issuer string
	cookie string
}

// NewVerifier creates a Verifier. The cookie name defaults to authToken.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Cookie == "" {
		cfg.Cookie = "authToken"
	}
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer, cookie: cfg.Cookie}
}

// Parse validates a token and returns the identity it carries.
func (v *Verifier) Parse(token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("identity secret is not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return nil, errors.Wrap(err, "parse identity token")
	}
	if claims.UserID == "" {
		return nil, errors.New("identity token has no userId")
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return &Identity{UserID: string(claims.UserID), Role: role}, nil
}

// FromRequest reads the token from the identity cookie or a Bearer
// Authorization header.
func (v *Verifier) FromRequest(r *http.Request) (*Identity, error) {
	var token string
	if c, err := r.Cookie(v.cookie); err == nil && c.Value != "" {
		token = c.Value
	} else if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(value)
		}
	}
	if token == "" {
		return nil, ErrNoToken
	}
	return v.Parse(token)
}

// Mint signs a token for id. It exists for local tooling and tests; the
// session service issues production tokens.
func (v *Verifier) Mint(id Identity, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: UserRef(id.UserID),
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign identity token")
	}
	return signed, nil
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

package security

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/errs"

	"github.com/golang-jwt/jwt"
)

// AccessClaims carries sub=user id and the participant role.
type AccessClaims struct {
	jwt.StandardClaims
	Role string `json:"role"`
}

type Options struct {
	Issuer    string        // checked only when set
	Audience  string        // checked only when set
	ClockSkew time.Duration // leeway applied to exp/nbf
	TTL       time.Duration // lifetime of tokens issued by Sign
}

// JWT verifies access tokens issued by the platform's identity service.
// HS256 tokens are verified (and can be signed) with a shared secret,
// RS256 tokens with the identity service's public key.
type JWT struct {
	method jwt.SigningMethod
	secret []byte
	public *rsa.PublicKey
	opts   Options
	now    func() time.Time
}

func NewHS256(secret string, opts Options) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("hs256: empty secret")
	}
	return &JWT{
		method: jwt.SigningMethodHS256,
		secret: []byte(secret),
		opts:   withDefaults(opts),
		now:    time.Now,
	}, nil
}

func NewRS256(public *rsa.PublicKey, opts Options) (*JWT, error) {
	if public == nil {
		return nil, fmt.Errorf("rs256: nil public key")
	}
	return &JWT{
		method: jwt.SigningMethodRS256,
		public: public,
		opts:   withDefaults(opts),
		now:    time.Now,
	}, nil
}

func withDefaults(o Options) Options {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.ClockSkew < 0 {
		o.ClockSkew = 0
	}
	return o
}

// Verify validates tokenStr and returns the identity it grants.
func (j *JWT) Verify(tokenStr string) (domain.Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return domain.Identity{}, errs.ErrMissingToken
	}

	claims := &AccessClaims{}
	// exp/nbf are checked below with clock skew applied
	parser := jwt.Parser{
		ValidMethods:         []string{j.method.Alg()},
		SkipClaimsValidation: true,
	}
	token, err := parser.ParseWithClaims(tokenStr, claims, j.keyFunc)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.Identity{}, errs.ErrInvalidToken
	}

	if j.opts.Issuer != "" && !claims.VerifyIssuer(j.opts.Issuer, true) {
		return domain.Identity{}, errs.ErrInvalidIssuer
	}
	if j.opts.Audience != "" && !claims.VerifyAudience(j.opts.Audience, true) {
		return domain.Identity{}, errs.ErrInvalidAudience
	}

	if claims.ExpiresAt == 0 {
		return domain.Identity{}, errs.ErrTokenExpired
	}
	now := j.now()
	exp := time.Unix(claims.ExpiresAt, 0).Add(j.opts.ClockSkew)
	if now.After(exp) {
		return domain.Identity{}, errs.ErrTokenExpired
	}
	if claims.NotBefore != 0 {
		nbf := time.Unix(claims.NotBefore, 0).Add(-j.opts.ClockSkew)
		if now.Before(nbf) {
			return domain.Identity{}, errs.ErrTokenExpired
		}
	}

	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return domain.Identity{}, errs.ErrInvalidSubject
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %q", errs.ErrInvalidRole, claims.Role)
	}

	return domain.Identity{UserID: sub, Role: role}, nil
}

// Sign issues an HS256 access token for id. Used by the dev `token` command
// and tests; production tokens come from the identity service.
func (j *JWT) Sign(id domain.Identity, now time.Time) (string, error) {
	if j.secret == nil {
		return "", errs.ErrSigningDisabled
	}
	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   id.UserID,
			Issuer:    j.opts.Issuer,
			Audience:  j.opts.Audience,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(j.opts.TTL).Unix(),
		},
		Role: string(id.Role),
	}

	return jwt.NewWithClaims(j.method, claims).SignedString(j.secret)
}

func (j *JWT) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, errs.ErrInvalidToken
	}
	if j.public != nil {
		return j.public, nil
	}
	return j.secret, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return jwt.ParseRSAPublicKeyFromPEM(b)
}

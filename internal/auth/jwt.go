package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid agent token")

// Claims carries the fields the gateway reads from an agent JWT. APIToken is
// the per-user Scratchpad API token forwarded on every data-service call.
type Claims struct {
	APIToken      string   `json:"api_token"`
	Email         string   `json:"email,omitempty"`
	AllowedModels []string `json:"allowed_models,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

// ModelAllowed reports whether the user may run the named model. An empty
// allow-list means no restriction.
func (c *Claims) ModelAllowed(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, allowed := range c.AllowedModels {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(model)) {
			return true
		}
	}
	return false
}

type Verifier struct {
	secret []byte
}

// NewVerifier builds a JWT verifier. With an empty secret, tokens are decoded
// without signature verification; upstream infrastructure is then the trust
// boundary.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{}
	if trimmed := strings.TrimSpace(secret); trimmed != "" {
		v.secret = []byte(trimmed)
	}
	return v
}

func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	if v.secret == nil {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !token.Valid {
			return nil, ErrInvalidToken
		}
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Package auth resolves the calling identity from a bearer JWT minted by the
// platform's external identity provider. The Factory never issues its own
// tokens — it only verifies them, per spec.md's Identity & Role Registry
// contract (caller -> identity resolution).
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the resolved identity of an inbound request.
type Caller struct {
	ID string
}

// HMACKeyset is a named set of HMAC signing/verification secrets, keyed by
// key id, with one marked active. Rotation replaces the whole set.
type HMACKeyset struct {
	ActiveKID string
	Keys      map[string][]byte
}

// ParseHMACKeyset builds a keyset either from a single legacy secret or from
// a "kid:secret,kid2:secret2" spec.
func ParseHMACKeyset(legacySecret, keysetSpec, activeKID string) (HMACKeyset, error) {
	out := HMACKeyset{ActiveKID: activeKID, Keys: make(map[string][]byte)}
	if strings.TrimSpace(out.ActiveKID) == "" {
		out.ActiveKID = "default"
	}
	if strings.TrimSpace(keysetSpec) != "" {
		parts := strings.Split(keysetSpec, ",")
		for _, part := range parts {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			pair := strings.SplitN(entry, ":", 2)
			if len(pair) != 2 {
				return HMACKeyset{}, fmt.Errorf("invalid keyset entry %q", entry)
			}
			kid := strings.TrimSpace(pair[0])
			secret := strings.TrimSpace(pair[1])
			if kid == "" || secret == "" {
				return HMACKeyset{}, fmt.Errorf("invalid keyset entry %q", entry)
			}
			out.Keys[kid] = []byte(secret)
		}
	} else {
		if strings.TrimSpace(legacySecret) == "" {
			return HMACKeyset{}, errors.New("jwt secret is required")
		}
		out.Keys[out.ActiveKID] = []byte(legacySecret)
	}
	if len(out.Keys) == 0 {
		return HMACKeyset{}, errors.New("jwt keyset is empty")
	}
	if _, ok := out.Keys[out.ActiveKID]; !ok {
		return HMACKeyset{}, fmt.Errorf("active kid %q not found in keyset", out.ActiveKID)
	}
	return out, nil
}

// JWTVerifier verifies bearer tokens issued by the external identity
// provider and resolves them to a Caller.
type JWTVerifier struct {
	activeKID string
	keys      map[string][]byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	keyset, err := ParseHMACKeyset(secret, "", "default")
	if err != nil {
		panic(err)
	}
	return NewJWTVerifierWithKeyset(keyset)
}

func NewJWTVerifierWithKeyset(keyset HMACKeyset) *JWTVerifier {
	return &JWTVerifier{activeKID: keyset.ActiveKID, keys: keyset.Keys}
}

// SetKeyset swaps the verification keyset, for hot key rotation.
func (v *JWTVerifier) SetKeyset(keyset HMACKeyset) error {
	if len(keyset.Keys) == 0 {
		return errors.New("jwt keyset is empty")
	}
	v.activeKID = keyset.ActiveKID
	v.keys = keyset.Keys
	return nil
}

// ParseCaller verifies tokenString and extracts the caller's identity.
func (v *JWTVerifier) ParseCaller(tokenString string) (Caller, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		kid, _ := token.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			kid = v.activeKID
		}
		secret := v.keys[kid]
		if len(secret) == 0 {
			return nil, errors.New("unknown key id")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil || !tok.Valid {
		return Caller{}, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Caller{}, errors.New("missing sub claim")
	}
	return Caller{ID: sub}, nil
}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	v, ok := ctx.Value(callerContextKey).(Caller)
	return v, ok
}

// HTTPJWTMiddlewareWithSkips authenticates every request except those whose
// path is listed in skipPaths, stashing the resolved Caller in the request
// context.
func HTTPJWTMiddlewareWithSkips(verifier *JWTVerifier, next http.Handler, skipPaths []string) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		caller, err := verifier.ParseCaller(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

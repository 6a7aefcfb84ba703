package backend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or its
	// signature does not verify.
	ErrInvalidToken = errors.New("backend: invalid token")
	// ErrExpiredToken is returned when a token is past its expiry.
	ErrExpiredToken = errors.New("backend: token expired")
)

// refreshSkew re-mints a cached token this close to expiry so an in-flight
// request never carries a token that dies mid-call.
const refreshSkew = 30 * time.Second

// deviceClaims wraps the registered claims for jwt compatibility.
type deviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// MintDeviceToken creates a signed HS256 session token for a device.
func MintDeviceToken(deviceID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := deviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "solesync",
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateDeviceToken verifies a session token and returns its device ID.
func ValidateDeviceToken(tokenStr string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &deviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*deviceClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.DeviceID, nil
}

// tokenSource caches a minted token and refreshes it near expiry.
type tokenSource struct {
	mu       sync.Mutex
	secret   []byte
	deviceID string
	ttl      time.Duration
	current  string
	expires  time.Time
}

func newTokenSource(secret []byte, deviceID string, ttl time.Duration) *tokenSource {
	return &tokenSource{
		secret:   secret,
		deviceID: deviceID,
		ttl:      ttl,
	}
}

// token returns the cached token, minting a fresh one when the cached copy
// is absent or within refreshSkew of expiry.
func (t *tokenSource) token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != "" && time.Now().Add(refreshSkew).Before(t.expires) {
		return t.current, nil
	}

	minted, err := MintDeviceToken(t.deviceID, t.secret, t.ttl)
	if err != nil {
		return "", err
	}
	t.current = minted
	t.expires = time.Now().Add(t.ttl)
	return minted, nil
}

package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	pinMin = 10000
	pinMax = 99999
)

var pinSpan = big.NewInt(pinMax - pinMin + 1)

// NewSessionID returns a random 128-bit session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRecordID returns a lexically time-ordered record identifier.
func NewRecordID() string {
	return ulid.Make().String()
}

// NewPIN draws a uniform five digit PIN in [10000, 99999].
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpan)
	if err != nil {
		return "", fmt.Errorf("draw pin: %w", err)
	}
	return fmt.Sprintf("%05d", n.Int64()+pinMin), nil
}

// ValidPIN reports whether pin has the five digit shape NewPIN produces.
func ValidPIN(pin string) bool {
	if len(pin) != 5 || pin[0] == '0' {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

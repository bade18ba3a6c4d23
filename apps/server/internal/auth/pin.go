package auth

import (
	"errors"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPIN         = errors.New("manager pin must be 4-12 digits")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,12}$`)

func HashPIN(pin string) ([]byte, error) {
	if !pinPattern.MatchString(pin) {
		return nil, ErrInvalidPIN
	}
	return bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
}

func CheckPIN(hash []byte, pin string) error {
	if len(hash) == 0 || pin == "" {
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(pin)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

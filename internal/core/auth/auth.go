package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"gorm.io/gorm"

	"github.com/wordquizzle/wordquizzle/internal/core/data"
)

var (
	ErrUnknown            = errors.New("an unexpected error occurred, please contact your server administrator")
	ErrAccountNotFound    = errors.New("no account with that username exists")
	ErrInvalidCredentials = errors.New("wrong password for that username")
)

// VerifyAccount checks the Accounts table for the specified credentials
// combination and returns the matching account.
func VerifyAccount(db *gorm.DB, username, password string) (*data.Account, error) {
	account, err := data.FindAccountByUsername(db, username)
	if err != nil {
		return nil, ErrUnknown
	}

	if account == nil {
		return nil, ErrAccountNotFound
	}
	if account.Password != HashPassword(password) {
		return nil, ErrInvalidCredentials
	}

	return account, nil
}

// HashPassword returns a version of password with our chosen hashing strategy.
func HashPassword(password string) string {
	hash := sha256.Sum256([]byte(password))
	return hex.EncodeToString(hash[:])
}

package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Account contains the registration information and cumulative score of each
// registered player.
type Account struct {
	ID               uint64 `gorm:"primaryKey"`
	Username         string `gorm:"unique; not null"`
	Password         string `gorm:"not null"`
	RegistrationDate time.Time
	Score            int `gorm:"default:0"`
}

// FindAccountByUsername searches for an account with the specified username,
// returning the *Account instance if found or nil if there is no match.
func FindAccountByUsername(db *gorm.DB, username string) (*Account, error) {
	var account Account
	err := db.Where("username = ?", username).First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

// CreateAccount persists the Account record to the database.
func CreateAccount(db *gorm.DB, account *Account) error {
	return db.Create(account).Error
}

// DeleteAccount deletes an Account record and its friendship edges.
func DeleteAccount(db *gorm.DB, account *Account) error {
	err := db.Where("account_id = ? OR friend_id = ?", account.ID, account.ID).
		Delete(&Friendship{}).Error
	if err != nil {
		return err
	}
	return db.Delete(account).Error
}

// AddToScore atomically adds delta (which may be negative) to the account's
// cumulative score.
func AddToScore(db *gorm.DB, username string, delta int) error {
	result := db.Model(&Account{}).
		Where("username = ?", username).
		Update("score", gorm.Expr("score + ?", delta))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

package data

import (
	"gorm.io/gorm"
)

// Friendship is one direction of the friend graph's symmetric edges; both
// directions are written for each befriending so lookups only ever scan
// account_id.
type Friendship struct {
	ID        uint64 `gorm:"primaryKey"`
	AccountID uint64 `gorm:"uniqueIndex:idx_friend_edge; not null"`
	FriendID  uint64 `gorm:"uniqueIndex:idx_friend_edge; not null"`
}

// CreateFriendship records the edges between the two accounts.
func CreateFriendship(db *gorm.DB, a, b *Account) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Friendship{AccountID: a.ID, FriendID: b.ID}).Error; err != nil {
			return err
		}
		return tx.Create(&Friendship{AccountID: b.ID, FriendID: a.ID}).Error
	})
}

// FriendshipExists reports whether the two accounts are friends.
func FriendshipExists(db *gorm.DB, a, b *Account) (bool, error) {
	var count int64
	err := db.Model(&Friendship{}).
		Where("account_id = ? AND friend_id = ?", a.ID, b.ID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindFriends returns the accounts befriended by the given account.
func FindFriends(db *gorm.DB, account *Account) ([]Account, error) {
	var friends []Account
	err := db.
		Joins("JOIN friendships ON friendships.friend_id = accounts.id").
		Where("friendships.account_id = ?", account.ID).
		Find(&friends).Error
	if err != nil {
		return nil, err
	}
	return friends, nil
}

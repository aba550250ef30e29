package models

import (
	"time"
)

// PendingTransaction is the persisted form of a relayed Ethereum transaction.
// The same struct backs the Postgres table and the Mongo collection.
type PendingTransaction struct {
	// insertion sequence
	ID             uint64    `gorm:"primaryKey;autoIncrement" bson:"seq"`
	EthHash        string    `gorm:"type:varchar(66);uniqueIndex;not null" bson:"_id"`
	RawTransaction []byte    `gorm:"not null" bson:"raw_transaction"`
	Sender         string    `gorm:"type:varchar(42);not null" bson:"sender"`
	Retries        uint8     `gorm:"not null;default:0" bson:"retries"`
	BlockNumber    *uint64   `gorm:"index" bson:"block_number"`
	CreatedAt      time.Time `gorm:"type:timestamp(6);default:current_timestamp(6)" bson:"created_at"`
	UpdatedAt      time.Time `gorm:"type:timestamp(6);default:current_timestamp(6)" bson:"updated_at"`
}

func (PendingTransaction) TableName() string {
	return "pending_transactions"
}

package storage

import "time"

type OperationRecord struct {
	ID        int64           `gorm:"primaryKey"`
	Operation OperationType   `gorm:"index;not null"`
	Raffle    string          `gorm:"index"`
	NftMint   string          `gorm:"index"`
	Signer    string          `gorm:"not null"`
	Signature string          `gorm:"uniqueIndex;not null"`
	Status    OperationStatus `gorm:"index;not null"`
	Slot      uint64          `gorm:"default:0"`
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RaffleStatus struct {
	Raffle       string `gorm:"primaryKey"`
	NftMint      string `gorm:"index;not null"`
	Creator      string `gorm:"not null"`
	EndTimestamp int64  `gorm:"index;not null"`
	Entrants     uint64 `gorm:"default:0"`
	Revealed     bool   `gorm:"default:false"`
	Closed       bool   `gorm:"default:false"`
	UpdatedAt    time.Time
}

package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReceiptRecord persists one executed operation.
type ReceiptRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Height      uint64    `gorm:"index"`
	Method      string    `gorm:"size:64;index"`
	FromAddress string    `gorm:"size:42;index"`
	ToAddress   string    `gorm:"size:42;index"`
	Value       string    `gorm:"size:80"`
	Nonce       uint64    `gorm:"not null"`
	Status      uint8     `gorm:"not null"`
	Error       string    `gorm:"size:256"`
	StateRoot   string    `gorm:"size:66"`
	ExecutedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
	Events      []EventRecord `gorm:"foreignKey:ReceiptID"`
}

// EventRecord stores an event committed by a receipt.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReceiptID  uuid.UUID `gorm:"type:uuid;index"`
	Position   int       `gorm:"not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// OracleSample is a raw quote accepted from one source.
type OracleSample struct {
	ID         uint      `gorm:"primaryKey"`
	Pair       string    `gorm:"size:32;index"`
	Source     string    `gorm:"size:64"`
	Rate       string    `gorm:"size:80"`
	ObservedAt time.Time `gorm:"index"`
	RecordedAt time.Time
}

// OracleSnapshot is the aggregated median published for a pair.
type OracleSnapshot struct {
	ID         uint   `gorm:"primaryKey"`
	Pair       string `gorm:"size:32;index"`
	MedianRate string `gorm:"size:80"`
	Feeders    string `gorm:"size:256"`
	ProofID    string `gorm:"size:64;index"`
	ObservedAt time.Time
	RecordedAt time.Time
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ReceiptRecord{},
		&EventRecord{},
		&OracleSample{},
		&OracleSnapshot{},
	)
}

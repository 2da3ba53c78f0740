package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tokenexchange/core/types"
)

var (
	// ErrDSNRequired is returned when the journal DSN is missing.
	ErrDSNRequired = errors.New("journal: dsn must be configured")
	// ErrSnapshotNotFound is returned when no snapshot exists for a pair.
	ErrSnapshotNotFound = errors.New("journal: snapshot not found")
)

// Journal is the durable record of receipts, events and oracle activity.
type Journal struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Journal, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database handle required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordReceipt stores r together with its events.
func (j *Journal) RecordReceipt(ctx context.Context, r *types.Receipt) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	if r == nil {
		return fmt.Errorf("journal: nil receipt")
	}
	rec := ReceiptRecord{
		ID:          uuid.New(),
		Height:      r.Height,
		Method:      r.Method,
		FromAddress: strings.ToLower(r.From.Hex()),
		ToAddress:   strings.ToLower(r.To.Hex()),
		Value:       r.Value,
		Nonce:       r.Nonce,
		Status:      r.Status,
		Error:       truncate(r.Error, 256),
		StateRoot:   r.StateRoot.Hex(),
		ExecutedAt:  r.Timestamp.UTC(),
	}
	for i, ev := range r.Events {
		attrs, err := json.Marshal(ev.Attributes)
		if err != nil {
			return fmt.Errorf("encode event attributes: %w", err)
		}
		rec.Events = append(rec.Events, EventRecord{
			ID:         uuid.New(),
			ReceiptID:  rec.ID,
			Position:   i,
			Type:       ev.Type,
			Attributes: string(attrs),
		})
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ReceiptFilter narrows a receipt listing. Zero values match everything.
type ReceiptFilter struct {
	Account string
	Method  string
	Limit   int
}

// Receipts lists receipts newest first.
func (j *Journal) Receipts(ctx context.Context, filter ReceiptFilter) ([]ReceiptRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Model(&ReceiptRecord{}).Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
	if account := strings.ToLower(strings.TrimSpace(filter.Account)); account != "" {
		query = query.Where("from_address = ? OR to_address = ?", account, account)
	}
	if method := strings.TrimSpace(filter.Method); method != "" {
		query = query.Where("method = ?", method)
	}
	var out []ReceiptRecord
	if err := query.Order("height DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	return out, nil
}

// EventsByType lists committed events of the given type, newest first.
func (j *Journal) EventsByType(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []EventRecord
	err := j.db.WithContext(ctx).
		Where("type = ?", strings.TrimSpace(eventType)).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// RecordSample persists a raw oracle quote.
func (j *Journal) RecordSample(ctx context.Context, base, quote, source string, rate *big.Rat, observed, recorded time.Time) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	if rate == nil {
		return fmt.Errorf("quote missing rate")
	}
	sample := OracleSample{
		Pair:       pairKey(base, quote),
		Source:     strings.ToLower(strings.TrimSpace(source)),
		Rate:       rate.FloatString(18),
		ObservedAt: observed.UTC(),
		RecordedAt: recorded.UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordSnapshot stores the aggregated median snapshot.
func (j *Journal) RecordSnapshot(ctx context.Context, base, quote, median string, feeders []string, proofID string, ts time.Time) error {
	if j == nil {
		return fmt.Errorf("journal not configured")
	}
	snap := OracleSnapshot{
		Pair:       pairKey(base, quote),
		MedianRate: strings.TrimSpace(median),
		Feeders:    strings.Join(feeders, ","),
		ProofID:    proofID,
		ObservedAt: ts.UTC(),
		RecordedAt: time.Now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshot captures the latest oracle aggregate.
type Snapshot struct {
	MedianRate string
	Feeders    []string
	ProofID    string
	ObservedAt time.Time
	RecordedAt time.Time
}

// LatestSnapshot returns the most recent aggregated median for the pair.
func (j *Journal) LatestSnapshot(ctx context.Context, base, quote string) (Snapshot, error) {
	result := Snapshot{}
	if j == nil {
		return result, fmt.Errorf("journal not configured")
	}
	var row OracleSnapshot
	err := j.db.WithContext(ctx).
		Where("pair = ?", pairKey(base, quote)).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result, ErrSnapshotNotFound
	}
	if err != nil {
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	result.MedianRate = row.MedianRate
	result.ProofID = row.ProofID
	result.ObservedAt = row.ObservedAt
	result.RecordedAt = row.RecordedAt
	if row.Feeders != "" {
		result.Feeders = strings.Split(row.Feeders, ",")
	}
	return result, nil
}

func pairKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

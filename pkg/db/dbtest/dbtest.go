// Package dbtest opens isolated SQLite databases carrying the settlement schema
// for package tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
)

// PlatformAccountID is the seeded fee recipient.
var PlatformAccountID = uuid.MustParse(migrate.PlatformAccountID)

// Open returns a client over a fresh in-memory database. The pool is pinned
// to one connection, which serializes concurrent transactions the same way
// row locks do on Postgres.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.ApplySQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db.NewFromConn(conn)
}

// SeedAccount inserts an account holding balanceCents.
func SeedAccount(t testing.TB, client *db.Client, role enums.AccountRole, balanceCents int64) models.Account {
	t.Helper()
	id := uuid.New()
	account := models.Account{
		ID:           id,
		Email:        id.String() + "@example.com",
		DisplayName:  "account " + id.String()[:8],
		Role:         role,
		BalanceCents: balanceCents,
	}
	if err := client.DB().Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

// SeedSeller registers accountID as a seller with the given price and quantity bounds.
func SeedSeller(t testing.TB, client *db.Client, accountID uuid.UUID, unitPricePer1kCents, minQty, maxQty int64) models.Seller {
	t.Helper()
	seller := models.Seller{
		ID:                  uuid.New(),
		AccountID:           accountID,
		DisplayName:         "seller",
		UnitPricePer1kCents: unitPricePer1kCents,
		MinQuantity:         minQty,
		MaxQuantity:         maxQty,
		DeliveryMethods: pq.StringArray{
			string(enums.DeliveryMethodInGameMail),
			string(enums.DeliveryMethodFaceToFace),
			string(enums.DeliveryMethodMarketplaceListing),
		},
		IsActive: true,
	}
	if err := client.DB().Create(&seller).Error; err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	return seller
}

// Balance reads the stored balance for accountID.
func Balance(t testing.TB, client *db.Client, accountID uuid.UUID) int64 {
	t.Helper()
	var account models.Account
	if err := client.DB().Where("id = ?", accountID).Take(&account).Error; err != nil {
		t.Fatalf("load account %s: %v", accountID, err)
	}
	return account.BalanceCents
}

// TransactionSum returns the signed sum of every ledger entry for accountID.
func TransactionSum(t testing.TB, client *db.Client, accountID uuid.UUID) int64 {
	t.Helper()
	var sum int64
	err := client.DB().Model(&models.Transaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	if err != nil {
		t.Fatalf("sum transactions %s: %v", accountID, err)
	}
	return sum
}

// CountOutbox counts queued events of the given type.
func CountOutbox(t testing.TB, client *db.Client, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	return count
}

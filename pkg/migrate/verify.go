package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// ErrPlatformAccountMissing means the fee recipient configured for withdrawals
// has no row in accounts, so every approved payout would fail to credit it.
var ErrPlatformAccountMissing = errors.New("platform account is missing")

// VerifyPlatformAccount checks that the configured platform account exists and
// carries the platform role.
func VerifyPlatformAccount(ctx context.Context, conn *gorm.DB, id uuid.UUID) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if id == uuid.Nil {
		return fmt.Errorf("platform account id is required")
	}

	var row struct {
		Role string
	}
	res := conn.WithContext(ctx).Table("accounts").Select("role").Where("id = ?", id).Limit(1).Scan(&row)
	if res.Error != nil {
		return fmt.Errorf("lookup platform account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrPlatformAccountMissing, id)
	}
	if row.Role != string(enums.AccountRolePlatform) {
		return fmt.Errorf("account %s has role %q, expected platform", id, row.Role)
	}
	return nil
}

package sellers

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

func newTestService(t *testing.T) (*db.Client, Service) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(client, NewRepository(client.DB()), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return client, svc
}

func validRegistration(accountID uuid.UUID) RegisterInput {
	return RegisterInput{
		AccountID:           accountID,
		DisplayName:         "Gold Trader",
		UnitPricePer1kCents: 500,
		MinQuantity:         1000,
		MaxQuantity:         50000,
		DeliveryMethods:     []enums.DeliveryMethod{enums.DeliveryMethodInGameMail, enums.DeliveryMethodInGameMail},
	}
}

func TestRegisterPromotesAccount(t *testing.T) {
	client, svc := newTestService(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleUser, 0)

	seller, err := svc.Register(context.Background(), validRegistration(account.ID))
	require.NoError(t, err)
	assert.Len(t, seller.DeliveryMethods, 1)
	assert.True(t, seller.Offers(enums.DeliveryMethodInGameMail))

	var stored models.Account
	require.NoError(t, client.DB().Where("id = ?", account.ID).Take(&stored).Error)
	assert.Equal(t, enums.AccountRoleSeller, stored.Role)

	byAccount, err := svc.GetByAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, seller.ID, byAccount.ID)
}

func TestRegisterTwiceConflicts(t *testing.T) {
	client, svc := newTestService(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleUser, 0)

	_, err := svc.Register(context.Background(), validRegistration(account.ID))
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), validRegistration(account.ID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestRegisterValidatesListing(t *testing.T) {
	client, svc := newTestService(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleUser, 0)

	input := validRegistration(account.ID)
	input.MaxQuantity = input.MinQuantity - 1
	_, err := svc.Register(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidQuantity))

	input = validRegistration(account.ID)
	input.DeliveryMethods = []enums.DeliveryMethod{"carrier_pigeon"}
	_, err = svc.Register(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input = validRegistration(account.ID)
	input.UnitPricePer1kCents = 0
	_, err = svc.Register(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}

func TestGetByAccountWithoutRegistration(t *testing.T) {
	client, svc := newTestService(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleUser, 0)

	_, err := svc.GetByAccount(context.Background(), account.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotASeller))
}

func TestUpdateListingDeactivates(t *testing.T) {
	client, svc := newTestService(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleUser, 0)
	_, err := svc.Register(context.Background(), validRegistration(account.ID))
	require.NoError(t, err)

	inactive := false
	price := int64(650)
	updated, err := svc.UpdateListing(context.Background(), UpdateListingInput{AccountID: account.ID, IsActive: &inactive, UnitPricePer1kCents: &price})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, int64(650), updated.UnitPricePer1kCents)

	list, err := svc.ListActive(context.Background(), pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, list.Sellers)
}

func TestAddRatingAccumulates(t *testing.T) {
	client := dbtest.Open(t)
	account := dbtest.SeedAccount(t, client, enums.AccountRoleSeller, 0)
	seller := dbtest.SeedSeller(t, client, account.ID, 500, 1000, 5000)
	repo := NewRepository(client.DB())

	require.NoError(t, repo.AddRating(context.Background(), seller.ID, 5))
	require.NoError(t, repo.AddRating(context.Background(), seller.ID, 2))

	stored, err := repo.FindByID(context.Background(), seller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.RatingSum)
	assert.Equal(t, int64(2), stored.RatingCount)
	assert.InDelta(t, 3.5, stored.AverageRating(), 0.001)

	err = repo.AddRating(context.Background(), uuid.New(), 3)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

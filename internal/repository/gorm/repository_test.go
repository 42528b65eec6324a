package gormrepository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return New(gdb), mock
}

func TestApplyCampaignCapacityIsVersionGuarded(t *testing.T) {
	store, mock := newMockStore(t)
	delta := repository.CapacityDelta{
		CampaignID:      uuid.New(),
		Amount:          decimal.NewFromInt(5000),
		Shares:          50,
		Investors:       1,
		ExpectedVersion: 7,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "campaigns" SET .*"version"=version \+ 1.*WHERE .*version = .*raised_amount \+ .* <= target_amount AND sold_shares \+ .* <= total_shares`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows, err := store.ApplyCampaignCapacity(context.Background(), delta)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCampaignCapacityStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "campaigns"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rows, err := store.ApplyCampaignCapacity(context.Background(), repository.CapacityDelta{
		CampaignID:      uuid.New(),
		Amount:          decimal.NewFromInt(1),
		Shares:          1,
		Investors:       1,
		ExpectedVersion: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvestmentFiltersOnCurrentStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "investments" SET .*"status"=.* WHERE id = .* AND status IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows, err := store.UpdateInvestment(context.Background(), uuid.New(),
		[]string{models.InvestmentStatusCoolingOff},
		repository.InvestmentPatch{Status: models.InvestmentStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCampaignByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "campaigns" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	item, err := store.GetCampaignByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumSoldShares(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(shares_listed\), 0\) FROM "marketplace_listings" WHERE investment_id = \$1 AND status = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(7))

	total, err := store.SumSoldShares(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStoreIsInert(t *testing.T) {
	var store *Store
	item, err := store.GetInvestmentByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, item)
	rows, err := store.ApplyCampaignCapacity(context.Background(), repository.CapacityDelta{CampaignID: uuid.New()})
	assert.NoError(t, err)
	assert.Zero(t, rows)
}

func TestCleanStrings(t *testing.T) {
	got := cleanStrings([]string{" PENDING", "PENDING", "", "COOLING_OFF"})
	assert.Equal(t, []string{"PENDING", "COOLING_OFF"}, got)
}

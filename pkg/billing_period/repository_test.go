package billing_period

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/test_utils"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgContainer *postgres.PostgresContainer
var openDb func() *pgxpool.Pool

func TestMain(m *testing.M) {
	pgContainer, openDb = test_utils.TestWithDB()
	code := m.Run()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Errorf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

func setupTestRepository(t *testing.T) (context.Context, Repository) {
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		err := pgContainer.Restore(ctx)
		require.NoError(t, err)
	})
	return ctx, NewRepo(db)
}

func TestRepositoryImpl_SaveOverride(t *testing.T) {
	t.Run("should insert and read back override", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)

		// when
		saved, err := repo.SaveOverride(ctx, marchOverride())

		// then
		require.NoError(t, err)
		assert.Equal(t, 2025, saved.Year)
		assert.Equal(t, time.March, saved.Month)
		require.NotNil(t, saved.StartDate)
		assert.Equal(t, day("2025-03-21"), saved.StartDate.UTC())
		assert.Equal(t, day("2025-04-20"), saved.EndDate.UTC())
		assert.True(t, saved.MonthlyCap.Valid)
		assert.Equal(t, "160.00", saved.MonthlyCap.Decimal.StringFixed(2))

		found, err := repo.GetOverride(ctx, 2025, time.March)
		require.NoError(t, err)
		assert.Equal(t, saved.MonthlyCap.Decimal.String(), found.MonthlyCap.Decimal.String())
	})

	t.Run("should replace existing override and keep null cap", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		_, err := repo.SaveOverride(ctx, marchOverride())
		require.NoError(t, err)

		// when
		_, err = repo.SaveOverride(ctx, Override{
			Year:      2025,
			Month:     time.March,
			StartDate: datePtr("2025-03-20"),
			EndDate:   datePtr("2025-04-19"),
		})

		// then
		require.NoError(t, err)
		found, err := repo.GetOverride(ctx, 2025, time.March)
		require.NoError(t, err)
		assert.Equal(t, day("2025-03-20"), found.StartDate.UTC())
		assert.False(t, found.MonthlyCap.Valid)
	})
}

func TestRepositoryImpl_FindOverrideContaining(t *testing.T) {
	t.Run("should find override by inclusive window", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		_, err := repo.SaveOverride(ctx, marchOverride())
		require.NoError(t, err)

		// when
		first, errFirst := repo.FindOverrideContaining(ctx, day("2025-03-21"))
		last, errLast := repo.FindOverrideContaining(ctx, day("2025-04-20"))
		_, errOutside := repo.FindOverrideContaining(ctx, day("2025-04-21"))

		// then
		require.NoError(t, errFirst)
		require.NoError(t, errLast)
		assert.Equal(t, time.March, first.Month)
		assert.Equal(t, time.March, last.Month)
		assert.ErrorIs(t, errOutside, ErrOverrideNotFound)
	})

	t.Run("should ignore overrides without dates", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		_, err := repo.SaveOverride(ctx, Override{
			Year:       2025,
			Month:      time.May,
			MonthlyCap: decimal.NewNullDecimal(decimal.RequireFromString("150")),
		})
		require.NoError(t, err)

		// when
		_, err = repo.FindOverrideContaining(ctx, day("2025-05-10"))

		// then
		assert.ErrorIs(t, err, ErrOverrideNotFound)
	})
}

func TestRepositoryImpl_ListAndDelete(t *testing.T) {
	t.Run("should list overrides of a year and delete one", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		_, err := repo.SaveOverride(ctx, marchOverride())
		require.NoError(t, err)
		_, err = repo.SaveOverride(ctx, Override{Year: 2025, Month: time.January})
		require.NoError(t, err)
		_, err = repo.SaveOverride(ctx, Override{Year: 2026, Month: time.January})
		require.NoError(t, err)

		// when
		overrides, err := repo.ListOverrides(ctx, 2025)

		// then
		require.NoError(t, err)
		require.Len(t, overrides, 2)
		assert.Equal(t, time.January, overrides[0].Month)
		assert.Equal(t, time.March, overrides[1].Month)

		require.NoError(t, repo.DeleteOverride(ctx, 2025, time.January))
		assert.ErrorIs(t, repo.DeleteOverride(ctx, 2025, time.January), ErrOverrideNotFound)
	})
}

package repository_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/duynhne/storefront-sync/internal/core/repository"
)

type pgxStoreSuite struct {
	suite.Suite

	store     *repository.PgxStore
	pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// entry point to run the tests in the suite
func TestPgxStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(pgxStoreSuite))
}

// before all tests in the suite
func (suite *pgxStoreSuite) SetupSuite() {
	ctx := suite.T().Context()

	container, connStr, err := startPostgres(ctx)
	suite.container = container
	suite.Require().NoError(err)

	suite.pool, err = pgxpool.New(ctx, connStr)
	suite.Require().NoError(err)

	suite.store = repository.NewPgxStore(suite.pool)
	suite.Require().NoError(suite.store.Migrate(ctx))
}

// after all tests in the suite
func (suite *pgxStoreSuite) TearDownSuite() {
	if suite.pool != nil {
		suite.pool.Close()
	}
	if suite.container != nil {
		suite.NoError(testcontainers.TerminateContainer(suite.container))
	}
}

func (suite *pgxStoreSuite) TestContract() {
	testStore(suite.T(), suite.store)
}

func (suite *pgxStoreSuite) TestMigrateIsIdempotent() {
	suite.NoError(suite.store.Migrate(suite.T().Context()))
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:17.6-alpine3.22",
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("postgres.Run: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return postgresContainer, "", fmt.Errorf("pc.ConnectionString: %w", err)
	}

	return postgresContainer, connStr, nil
}

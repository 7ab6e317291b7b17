package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/paygate?sslmode=disable", migrateURL("postgres://u:p@db:5432/paygate?sslmode=disable"))
	assert.Equal(t, "pgx5://db/paygate", migrateURL("postgresql://db/paygate"))
	assert.Equal(t, "pgx5://db/paygate", migrateURL("pgx5://db/paygate"))
}

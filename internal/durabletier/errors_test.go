package durabletier

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKeyDetectsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"}
	assert.True(t, isDuplicateKey(err))
	assert.False(t, isDuplicateKey(&pgconn.PgError{Code: "42601"}))
}

func TestIsConnectionErrorDetectsKnownCodes(t *testing.T) {
	assert.True(t, isConnectionError(&pgconn.PgError{Code: "08006"}))
	assert.True(t, isConnectionError(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, isConnectionError(&pgconn.PgError{Code: "23505"}))
}

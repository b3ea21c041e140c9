package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSNAndURL(t *testing.T) {
	cfg := Config{
		Host:     "db",
		Port:     "5432",
		User:     "bot",
		Password: "p@ss word",
		Name:     "agenda",
		SSLMode:  "disable",
	}
	assert.Equal(t, "user=bot password=p@ss word host=db port=5432 dbname=agenda sslmode=disable", DSN(cfg))
	assert.Equal(t, "postgres://bot:p%40ss%20word@db:5432/agenda?sslmode=disable", URL(cfg))
}

func TestMigrationVersionHelpers(t *testing.T) {
	files := []string{
		"000001_conversation_states.up.sql",
		"000002_audit_log.up.sql",
		"000003_future.up.sql",
	}
	assert.Equal(t, uint64(2), versionOf(files[1]))
	assert.Zero(t, versionOf("readme.md"))
	assert.Len(t, appliedBetween(files, 1, 3), 2)
	assert.Empty(t, appliedBetween(files, 3, 3))
	assert.Equal(t, []string{"000001_conversation_states.up.sql"}, appliedBetween(files, 0, 1))
}

func TestUpMigrationsListsRepoMigrations(t *testing.T) {
	assert.Equal(t, []string{
		"000001_conversation_states.up.sql",
		"000002_audit_log.up.sql",
	}, upMigrations("../../migrations"))
	assert.Nil(t, upMigrations("does-not-exist"))
}

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synaptica-ai/mocab/pkg/common/config"
)

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "mocab",
		PostgresPassword: "pw",
		PostgresDB:       "vectors",
		PostgresSSLMode:  "require",
	}
	assert.Equal(t, "host=db user=mocab password=pw dbname=vectors port=5433 sslmode=require", PostgresDSN(cfg))
}

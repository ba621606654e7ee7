package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_HOST", "db.internal")

	t.Run("env wins over default", func(t *testing.T) {
		assert.Equal(t, "host: db.internal", expandEnv("host: ${TEST_EXPAND_HOST:localhost}"))
	})

	t.Run("default fills missing", func(t *testing.T) {
		assert.Equal(t, "host: localhost", expandEnv("host: ${TEST_EXPAND_MISSING:localhost}"))
	})

	t.Run("empty default", func(t *testing.T) {
		assert.Equal(t, "key: ", expandEnv("key: ${TEST_EXPAND_MISSING:}"))
	})

	t.Run("no default keeps placeholder", func(t *testing.T) {
		assert.Equal(t, "key: ${TEST_EXPAND_MISSING}", expandEnv("key: ${TEST_EXPAND_MISSING}"))
	})

	t.Run("multiple placeholders", func(t *testing.T) {
		got := expandEnv("dsn: ${TEST_EXPAND_HOST:x}:${TEST_EXPAND_PORT:5432}")
		assert.Equal(t, "dsn: db.internal:5432", got)
	})
}

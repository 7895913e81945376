package database

import (
	"testing"

	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGooseLogger_FatalfDoesNotReturn(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	previous := logger.Logger
	logger.Logger = zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic)).Sugar()
	t.Cleanup(func() { logger.Logger = previous })

	gooseLogger{}.Printf("applied %d", 1)
	assert.Panics(t, func() { gooseLogger{}.Fatalf("migration %s failed", "00001") })

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "applied 1", entries[0].Message)
	assert.Equal(t, zapcore.FatalLevel, entries[1].Level)
	assert.Equal(t, "migration 00001 failed", entries[1].Message)
}

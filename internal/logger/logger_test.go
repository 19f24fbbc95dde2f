package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		require.NotNil(t, l.SugaredLogger)
	}
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromCore(core).With("table", "person_names")

	l.Warn("ambiguous lookup", "matches", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ambiguous lookup", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "person_names", ctx["table"])
	assert.EqualValues(t, 2, ctx["matches"])
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Info("nothing")
	l.Sync()
}

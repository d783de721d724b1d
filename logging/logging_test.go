package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesRequestedLevel(t *testing.T) {
	entry := New("debug")
	require.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	entry := New("not-a-level")
	require.Equal(t, logrus.InfoLevel, entry.Logger.GetLevel())
}

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletd/walletd/internal/config"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{" error ", logrus.ErrorLevel},
		{"nonsense", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}
	for _, tt := range tests {
		log := newWithOutput(config.LogConfig{Level: tt.level}, &bytes.Buffer{})
		assert.Equal(t, tt.want, log.GetLevel(), "level %q", tt.level)
	}
}

func TestJSONFormatWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput(config.LogConfig{Level: "info", Format: "json"}, &buf)

	Component(log, "sync").Info("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sync", entry["component"])
	assert.Equal(t, "tick", entry["msg"])
}

func TestComponentNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Component(nil, "guard").Warn("dropped")
	})
}

package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"call_reminder/internal/infra/config"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.AppConfig
		wantLevel logrus.Level
		wantJSON  bool
	}{
		{name: "production json", cfg: config.AppConfig{LogLevel: "warn", Environment: "production"}, wantLevel: logrus.WarnLevel, wantJSON: true},
		{name: "staging json", cfg: config.AppConfig{LogLevel: "debug", Environment: "Staging"}, wantLevel: logrus.DebugLevel, wantJSON: true},
		{name: "development text", cfg: config.AppConfig{LogLevel: "info", Environment: "development"}, wantLevel: logrus.InfoLevel},
		{name: "invalid level", cfg: config.AppConfig{LogLevel: "loud", Environment: "development"}, wantLevel: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Init(&tt.cfg)

			assert.Equal(t, tt.wantLevel, Log.GetLevel())
			_, isJSON := Log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.wantJSON, isJSON)
		})
	}
}

func TestComponent(t *testing.T) {
	entry := Component("dispatcher")
	assert.Equal(t, "dispatcher", entry.Data["component"])
}

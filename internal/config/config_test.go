package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/discernment/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Quiz struct {
		DailyBonusXP int
		Timezone     string
		SessionTTL   time.Duration
	}
}

func defaults() testConfig {
	var c testConfig
	c.HTTP.Port = 8080
	c.Quiz.DailyBonusXP = 5
	c.Quiz.Timezone = "UTC"
	c.Quiz.SessionTTL = time.Hour
	return c
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T) string
		assert  func(t *testing.T, c testConfig)
	}{
		"defaults are kept without file and env": {
			arrange: func(t *testing.T) string { return "" },
			assert: func(t *testing.T, c testConfig) {
				require.Equal(t, defaults(), c)
			},
		},

		"file overrides defaults": {
			arrange: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(p, []byte("http:\n  port: 9000\nquiz:\n  sessionttl: 2h\n"), 0o600))
				return p
			},
			assert: func(t *testing.T, c testConfig) {
				require.EqualValues(t, 9000, c.HTTP.Port)
				require.Equal(t, 2*time.Hour, c.Quiz.SessionTTL)
				require.Equal(t, 5, c.Quiz.DailyBonusXP)
			},
		},

		"nested env overrides defaults": {
			arrange: func(t *testing.T) string {
				t.Setenv("HTTP_PORT", "7000")
				return ""
			},
			assert: func(t *testing.T, c testConfig) {
				require.EqualValues(t, 7000, c.HTTP.Port)
			},
		},

		"bare aliases are recognised": {
			arrange: func(t *testing.T) string {
				t.Setenv("DAILY_BONUS_XP", "12")
				t.Setenv("TIMEZONE", "Europe/Moscow")
				return ""
			},
			assert: func(t *testing.T, c testConfig) {
				require.Equal(t, 12, c.Quiz.DailyBonusXP)
				require.Equal(t, "Europe/Moscow", c.Quiz.Timezone)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			file := tt.arrange(t)

			c := defaults()
			err := config.Load(file, &c,
				config.WithEnvAlias("quiz.dailybonusxp", "DAILY_BONUS_XP"),
				config.WithEnvAlias("quiz.timezone", "TIMEZONE"),
			)
			require.NoError(t, err)

			tt.assert(t, c)
		})
	}
}

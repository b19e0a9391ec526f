package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		shouldFail bool
		check      func(t *testing.T, cfg *ServerConfig)
	}{
		{
			name: "minimal",
			args: []string{"-p", "1337", "-u", "1000", "-g", "1000", "./cb"},
			check: func(t *testing.T, cfg *ServerConfig) {
				require.Equal(t, uint16(1337), cfg.Port)
				require.Equal(t, 20, cfg.Backlog)
				require.Equal(t, uint(40), cfg.Limit)
				require.Equal(t, []string{"./cb"}, cfg.Programs)
			},
		},
		{
			name: "max-send sets both directions",
			args: []string{"-p", "1337", "-u", "1000", "-g", "1000", "-M", "4096", "./cb"},
			check: func(t *testing.T, cfg *ServerConfig) {
				require.Equal(t, "max_transmit=4096", cfg.MaxTransmit)
				require.Equal(t, "max_receive=4096", cfg.MaxReceive)
			},
		},
		{
			name: "multiple binaries",
			args: []string{"-p", "1337", "-u", "1000", "-g", "1000", "./a", "./b", "./c"},
			check: func(t *testing.T, cfg *ServerConfig) {
				require.Equal(t, []string{"./a", "./b", "./c"}, cfg.Programs)
			},
		},
		{
			name:       "malformed numeric flag is rejected outright",
			args:       []string{"-p", "not-a-port", "-u", "1000", "-g", "1000", "./cb"},
			shouldFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseFlags(tt.args)
			if tt.shouldFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		cfg        ServerConfig
		shouldFail bool
	}{
		{
			name:       "no port",
			cfg:        ServerConfig{Insecure: true, Limit: 1, UID: 1000, GID: 1000, Programs: []string{"./cb"}},
			shouldFail: true,
		},
		{
			name:       "no programs",
			cfg:        ServerConfig{Insecure: true, Port: 1, Limit: 1, UID: 1000, GID: 1000},
			shouldFail: true,
		},
		{
			name:       "zero limit",
			cfg:        ServerConfig{Insecure: true, Port: 1, UID: 1000, GID: 1000, Programs: []string{"./cb"}},
			shouldFail: true,
		},
		{
			name:       "seed with negotiate",
			cfg:        ServerConfig{Insecure: true, Port: 1, Limit: 1, UID: 1000, GID: 1000, Programs: []string{"./cb"}, Negotiate: true, Seed: "x"},
			shouldFail: true,
		},
		{
			name:       "fixed uid mode requires nonzero uid",
			cfg:        ServerConfig{Insecure: true, Port: 1, Limit: 1, GID: 1000, Programs: []string{"./cb"}},
			shouldFail: true,
		},
		{
			name:       "random uid mode requires chroot dir",
			cfg:        ServerConfig{Mode: ModeRandomUID, Insecure: true, Port: 1, Limit: 1, Programs: []string{"./cb"}},
			shouldFail: true,
		},
		{
			name: "valid fixed uid config",
			cfg:  ServerConfig{Insecure: true, Port: 1337, Limit: 40, UID: 1000, GID: 1000, Programs: []string{"./cb"}},
		},
		{
			name: "valid random uid config",
			cfg:  ServerConfig{Mode: ModeRandomUID, Insecure: true, Port: 1337, Limit: 40, ChrootDir: "/srv/cb", Programs: []string{"./cb"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.shouldFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

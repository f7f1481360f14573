package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autosd.pid")

	require.NoError(t, writePidFile(pidFile, os.Getpid()))
	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, removePidFile(pidFile))
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, removePidFile(""))
}

func TestChildArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		pidFile string
		want    []string
	}{
		{
			name: "separate values",
			args: []string{"serve", "--daemonize", "--pidfile", "/run/a.pid", "--logfile", "/tmp/a.log", "cfg.toml"},
			want: []string{"serve", "cfg.toml"},
		},
		{
			name:    "inline values keep pidfile for the child",
			args:    []string{"serve", "--daemonize=true", "--pidfile=/run/a.pid", "--logfile=/tmp/a.log"},
			pidFile: "/run/a.pid",
			want:    []string{"serve", "--pidfile", "/run/a.pid"},
		},
		{
			name: "other flags untouched",
			args: []string{"--config", "x.toml", "serve"},
			want: []string{"--config", "x.toml", "serve"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, childArgs(tt.args, tt.pidFile))
		})
	}
}

func TestDaemonSupported(t *testing.T) {
	assert.True(t, isDaemonSupported())
}

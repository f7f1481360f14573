package detector

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemTableFindsSelf(t *testing.T) {
	procs, err := SystemTable{}.Snapshot(context.Background(), Query{Exe: true, Start: true})
	require.NoError(t, err)

	var self *Proc
	for i := range procs {
		if procs[i].PID == os.Getpid() {
			self = &procs[i]
			break
		}
	}
	require.NotNil(t, self, "own process listed")
	assert.NotEmpty(t, self.Name)
	assert.Positive(t, self.StartUnix)
	assert.LessOrEqual(t, self.StartUnix, time.Now().Unix())
	assert.Greater(t, self.StartUnix, time.Now().Add(-24*time.Hour).Unix())
}

func TestSystemTableSkipsStartWhenNotQueried(t *testing.T) {
	procs, err := SystemTable{}.Snapshot(context.Background(), Query{})
	require.NoError(t, err)
	for _, p := range procs {
		if p.PID == os.Getpid() {
			assert.Zero(t, p.StartUnix)
			assert.False(t, p.ExeOK)
			return
		}
	}
	t.Fatal("own process not listed")
}

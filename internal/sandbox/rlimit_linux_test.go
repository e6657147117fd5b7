//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSandboxLimitsHoldFromFirstInstruction(t *testing.T) {
	sb := newTestSandbox(Limits{MaxOpenFiles: 64, MaxCPUSeconds: 30})
	defer sb.Stop(time.Second)

	// The shell reads its limits before anything could be applied from outside
	_, stdout, err := sb.Start(context.Background(), ProcessSpec{
		Command: "sh",
		Args:    []string{"-c", `echo "$(ulimit -n) $(ulimit -t)"; env; echo END; exec cat`},
	})
	require.NoError(t, err)
	assert.True(t, sb.proc.limitedAtExec)

	r := bufio.NewReader(stdout)
	first, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "64 30", strings.TrimSpace(first))

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimSpace(line) == "END" {
			break
		}
		assert.NotContains(t, line, rlimitEnv)
	}
}

func TestProcessSandboxMissingRelativeCommand(t *testing.T) {
	sb := newTestSandbox(Limits{})

	_, _, err := sb.Start(context.Background(), ProcessSpec{Command: "./no-such-server"})
	assert.ErrorIs(t, err, ErrSpawn)
	assert.False(t, sb.IsRunning())
}

func TestLimitAtExecWrapsCommand(t *testing.T) {
	cmd := exec.Command("cat", "-u")
	cmd.Dir = t.TempDir()

	limited, err := limitAtExec(cmd, DefaultLimits())
	require.NoError(t, err)
	require.True(t, limited)

	require.Len(t, cmd.Args, 4)
	assert.Equal(t, "cat", cmd.Args[0])
	assert.True(t, strings.HasSuffix(cmd.Args[1], "/cat"))
	assert.Equal(t, []string{"cat", "-u"}, cmd.Args[2:])
	assert.Contains(t, cmd.Env, rlimitEnv+"="+encodeRlimits(DefaultLimits()))

	decoded := decodeRlimits(encodeRlimits(DefaultLimits()))
	assert.Equal(t, rlimitsFor(DefaultLimits()), decoded)
}

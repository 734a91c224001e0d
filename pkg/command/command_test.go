package command

import (
	"bufio"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAndWaitFor(t *testing.T) {
	c := New("/bin/sh", "-c", "echo hello; exit 0")
	p, err := Execute(c)
	require.NoError(t, err)
	defer p.Close()

	status := p.WaitFor()
	assert.Equal(t, ExitExited, status.Kind)
	assert.Equal(t, 0, status.Code)

	scanner := bufio.NewScanner(p.Stdout)
	require.True(t, scanner.Scan())
	assert.Equal(t, "hello", scanner.Text())
}

func TestExecuteNonZeroExit(t *testing.T) {
	c := New("/bin/sh", "-c", "exit 3")
	p, err := Execute(c)
	require.NoError(t, err)
	defer p.Close()

	status := p.WaitFor()
	assert.Equal(t, ExitExited, status.Kind)
	assert.Equal(t, 3, status.Code)
}

func TestExecuteMissingBinary(t *testing.T) {
	c := New("/definitely/not/a/real/binary")
	_, err := Execute(c)
	assert.Error(t, err)
}

func TestIsRunningAndTerminate(t *testing.T) {
	c := New("/bin/sleep", "30")
	p, err := Execute(c)
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.IsRunning())
	require.NoError(t, p.Terminate())

	status := p.WaitFor()
	assert.Equal(t, ExitSignalled, status.Kind)
	assert.False(t, p.IsRunning())
}

func TestDetachClosesStreamsButKeepsHandle(t *testing.T) {
	c := New("/bin/sh", "-c", "sleep 0.05")
	p, err := Execute(c)
	require.NoError(t, err)

	p.Detach()
	assert.True(t, p.IsDetached())
	// Idempotent.
	p.Detach()

	pid := p.Pid()
	assert.Greater(t, pid, 0)
}

func TestSetUIDRequiresRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; SetUID would succeed")
	}
	c := New("/bin/true")
	err := c.SetUID(1000)
	assert.Error(t, err)
}

func TestEnvOverridesReplaceParentKey(t *testing.T) {
	os.Setenv("WARDEN_TEST_ENV_KEY", "parent-value")
	defer os.Unsetenv("WARDEN_TEST_ENV_KEY")

	c := New("/bin/sh", "-c", "echo $WARDEN_TEST_ENV_KEY")
	c.SetEnv("WARDEN_TEST_ENV_KEY", "child-value")
	p, err := Execute(c)
	require.NoError(t, err)
	defer p.Close()

	scanner := bufio.NewScanner(p.Stdout)
	require.True(t, scanner.Scan())
	assert.Equal(t, "child-value", scanner.Text())
	p.WaitFor()
}

func TestSetDirRejectsMissingDirectory(t *testing.T) {
	c := New("/bin/true")
	err := c.SetDir("/no/such/directory/warden-test")
	assert.Error(t, err)
}

func TestCloseKillsNonDetachedHandle(t *testing.T) {
	c := New("/bin/sleep", "30")
	p, err := Execute(c)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return promptly")
	}
	assert.False(t, p.IsRunning())
}

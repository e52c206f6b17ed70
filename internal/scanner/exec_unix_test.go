//go:build unix

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecInvokerCancelReachesForkedChildren(t *testing.T) {
	// The backgrounded subshell stands in for the JVM the real scanner
	// wrapper forks. It records SIGTERM in the project directory.
	script := writeScript(t, `(trap 'echo terminated > child-terminated; exit 0' TERM; echo started > started; sleep 30 & wait) &
wait
`)
	req := testRequest(t)
	inv := &ExecInvoker{Binary: script, Grace: 2 * time.Second, Logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		started := filepath.Join(req.ProjectDir, "started")
		for range 100 {
			if _, err := os.Stat(started); err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		cancel()
	}()

	_, err := inv.Scan(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)

	marker := filepath.Join(req.ProjectDir, "child-terminated")
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "forked child never saw SIGTERM")
}

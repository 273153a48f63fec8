package tool

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitError int

func (e exitError) Error() string { return fmt.Sprintf(`exit status %d`, int(e)) }
func (e exitError) ExitCode() int { return int(e) }

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New(`boom`)))
	assert.Equal(t, 101, ExitCode(exitError(101)))
	assert.Equal(t, 101, ExitCode(errors.Wrap(exitError(101), `cargo build`)))
	assert.Equal(t, 101, ExitCode(fmt.Errorf(`%w during compile`, exitError(101))))
	assert.Equal(t, 1, ExitCode(exitError(-1)))
}

func TestExitCodeFromProcess(t *testing.T) {
	if runtime.GOOS == `windows` {
		t.Skip(`needs a POSIX shell`)
	}
	if _, err := exec.LookPath(`sh`); err != nil {
		t.Skip(`sh not found`)
	}
	err := exec.CommandContext(context.Background(), `sh`, `-c`, `exit 3`).Run()
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(errors.Wrap(err, `compile`)))
}

//go:build !linux

package sandbox

import (
	"errors"
	"os/exec"
)

var errLimitsUnsupported = errors.New("resource limits are not supported on this platform")

func applyLimits(pid int, limits Limits) error {
	return errLimitsUnsupported
}

func limitAtExec(cmd *exec.Cmd, limits Limits) (bool, error) {
	return false, nil
}

//go:build windows

package runner

import "os/exec"

// configureProcessGroup keeps the exec default of killing the direct child.
func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {}

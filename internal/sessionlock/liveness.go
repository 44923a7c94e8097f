package sessionlock

import (
	"os"
	"syscall"
)

// processIsAlive reports whether pid is a live process on hostname. A
// permission error while signaling counts as "alive" — the process exists,
// we simply lack rights to signal it (this is the distilled specification's
// stated behavior, not the original implementation's literal treatment of a
// permission error as "dead"; see DESIGN.md). A PID on a remote host cannot
// be checked locally and is conservatively treated as alive; the `lock
// doctor` CLI diagnostic pings the recorded host before an operator commits
// to a force-unlock.
func processIsAlive(pid int, hostname string) bool {
	local, _ := os.Hostname()
	if hostname != "" && hostname != local {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}

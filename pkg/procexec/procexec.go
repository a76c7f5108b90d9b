// Package procexec spawns engine subprocesses in their own process group
// and kills the whole tree on timeout or shutdown. Platform-specific
// process-group handling lives in procexec_unix.go / procexec_windows.go,
// modeled on the teacher's pkg/ralph backend_external_unix/windows split.
package procexec

import "os/exec"

// SetNewProcessGroup arranges for cmd, once started, to be the leader of a
// new process group equal to its own PID (Unix) or the platform
// equivalent. It must be called before cmd.Start.
func SetNewProcessGroup(cmd *exec.Cmd) {
	setNewProcessGroup(cmd)
}

// Terminate sends the graceful-then-forceful kill sequence to the process
// group rooted at cmd: SIGTERM, a 100ms grace period (a sleep inside this
// call), then SIGKILL. On platforms without process groups it falls back
// to killing the single process.
func Terminate(cmd *exec.Cmd) error {
	return terminateGroup(cmd)
}

// Kill sends SIGKILL (or the platform equivalent) to the process group
// rooted at cmd without a grace period.
func Kill(cmd *exec.Cmd) error {
	return killGroup(cmd)
}

// KillTree sends the escalating SIGTERM/SIGKILL sequence of spec.md §4.3
// to the process group rooted at pid: SIGTERM, sleep 100ms, SIGKILL to the
// group, then a belt-and-suspenders SIGKILL to any direct children still
// matching -P pid. It takes a bare pid (not *exec.Cmd) because the
// ProcessRegistry only ever stores PIDs, not the original Cmd handles.
func KillTree(pid int) {
	killTreeByPID(pid)
}

package procrunner

import "syscall"

// processGroupAttr puts the child in its own process group so a single
// signal to the group reaches any helper processes ffmpeg forks for
// hardware-acceleration contexts, not just the direct child.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

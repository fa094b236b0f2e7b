package app

import "syscall"

// workerSysProcAttr puts workers in their own process group and has the
// kernel send SIGTERM when the supervisor dies.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

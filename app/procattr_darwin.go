package app

import "syscall"

// workerSysProcAttr puts workers in their own process group. darwin has
// no parent-death signal.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

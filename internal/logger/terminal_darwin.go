//go:build darwin

package logger

import (
	"syscall"
	"unsafe"
)

// TIOCGETA fetches terminal attributes; it only succeeds on a tty.
const termiosRequest = syscall.TIOCGETA

// isTerminal reports whether fd refers to a terminal.
func isTerminal(fd uintptr) bool {
	var t syscall.Termios
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, termiosRequest, uintptr(unsafe.Pointer(&t)))
	return errno == 0
}

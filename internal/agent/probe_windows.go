//go:build windows

package agent

import (
	"log/slog"
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	user32                   = syscall.NewLazyDLL("user32.dll")
	kernel32                 = syscall.NewLazyDLL("kernel32.dll")
	procGetForegroundWindow  = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadPID   = user32.NewProc("GetWindowThreadProcessId")
	procOpenProcess          = kernel32.NewProc("OpenProcess")
	procQueryFullProcessName = kernel32.NewProc("QueryFullProcessImageNameW")
	procCloseHandle          = kernel32.NewProc("CloseHandle")
)

const processQueryLimitedInformation = 0x1000

// WindowsProbe reads the foreground window's process executable name
type WindowsProbe struct {
	logger *slog.Logger
}

// NewWindowsProbe creates a new Windows foreground activity probe
func NewWindowsProbe(logger *slog.Logger) *WindowsProbe {
	return &WindowsProbe{
		logger: logger.With("component", "probe"),
	}
}

// CurrentActivity returns the base name of the foreground process executable
func (p *WindowsProbe) CurrentActivity() (string, bool) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", false
	}

	var pid uint32
	procGetWindowThreadPID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return "", false
	}

	handle, _, _ := procOpenProcess.Call(processQueryLimitedInformation, 0, uintptr(pid))
	if handle == 0 {
		// Elevated or protected processes deny access; treat as no activity
		return "", false
	}
	defer procCloseHandle.Call(handle)

	buf := make([]uint16, syscall.MAX_PATH)
	size := uint32(len(buf))
	ret, _, _ := procQueryFullProcessName.Call(
		handle,
		0,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&size)),
	)
	if ret == 0 || size == 0 {
		return "", false
	}

	exePath := syscall.UTF16ToString(buf[:size])
	return filepath.Base(exePath), true
}

// NewProbe creates a new probe implementation for the current OS
func NewProbe(logger *slog.Logger) Probe {
	return NewWindowsProbe(logger)
}

// Ensure WindowsProbe implements Probe
var _ Probe = (*WindowsProbe)(nil)

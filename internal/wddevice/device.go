// Package wddevice wraps the Linux watchdog character device: open,
// configure timeout, keep-alive write, close. This is the one resource
// whose liveness is sacred — once open, it must be kept alive until
// either a successful reboot syscall or an explicit, deliberate
// orderly teardown.
package wddevice

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl command numbers for the Linux watchdog driver
// (include/uapi/linux/watchdog.h). Not present in x/sys/unix, so
// defined here the way device-driver-adjacent code in the pack
// (usbarmory-tamago wdog) defines its own magic constants.
const (
	wdiocSetOptions  = 0x80045704
	wdiocKeepAlive   = 0x80045705
	wdiocSetTimeout  = 0xc0045706
	wdiocGetTimeout  = 0x80045707
	wdiosDisableCard = 0x0001
)

// Handle is an opaque reference to the watchdog device. At most one
// should exist per process. Zero value is not valid; use Open.
type Handle struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Open opens the watchdog device at path and configures its hardware
// timeout to timeoutSeconds. If the device does not support
// WDIOC_SETTIMEOUT the error is logged by the caller but the handle is
// still returned usable for keep-alive.
func Open(path string, timeoutSeconds int) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog device %s: %w", path, err)
	}
	h := &Handle{file: f}
	if timeoutSeconds > 0 {
		if err := h.SetTimeout(timeoutSeconds); err != nil {
			// Non-fatal: some drivers have a fixed hardware timeout and
			// reject reconfiguration. The device is still usable.
			return h, fmt.Errorf("set timeout on %s: %w", path, err)
		}
	}
	return h, nil
}

// Fd returns the underlying file descriptor, or -1 if the handle has
// been closed.
func (h *Handle) Fd() int {
	if h == nil {
		return -1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.file == nil {
		return -1
	}
	return int(h.file.Fd())
}

// SetTimeout configures the hardware reset timeout in seconds.
func (h *Handle) SetTimeout(seconds int) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	timeout := int32(seconds)
	return ioctl(h.file.Fd(), wdiocSetTimeout, uintptr(unsafe.Pointer(&timeout)))
}

// KeepAlive pets the hardware timer, deferring the hardware reset.
// Idempotent on an already-closed handle (returns nil). A nil *Handle
// (no device opened, e.g. under --no-action) is also a safe no-op, so
// callers that pass cfg.Device straight through as a wdclock.Pinger
// never need a separate nil check.
func (h *Handle) KeepAlive() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	var dummy int32
	return ioctl(h.file.Fd(), wdiocKeepAlive, uintptr(unsafe.Pointer(&dummy)))
}

// Close writes the special magic disarm byte ('V') before releasing
// the device, so the driver does not immediately reset the hardware
// when the file descriptor drops — matching watchdog.c's close
// sequence. Idempotent.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	_, werr := h.file.Write([]byte{'V'})
	cerr := h.file.Close()
	if werr != nil {
		return fmt.Errorf("disarm watchdog device: %w", werr)
	}
	return cerr
}

// Abandon deliberately leaves the device open without writing the
// magic disarm byte, so the hardware will force a reset even though
// the process is exiting. Used only by the shutdown brutal path and
// panic path.
func (h *Handle) Abandon() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	// Intentionally does not call Write or Close's disarm sequence.
}

func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

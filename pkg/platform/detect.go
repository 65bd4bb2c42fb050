// pkg/platform/detect.go
package platform

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Machine returns the raw machine identifier of the running kernel
func Machine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(uts.Machine[:]), nil
}

// Detect returns the architecture of the running machine. The kernel's
// answer wins over GOARCH so a 32-bit binary on a 64-bit kernel still
// reports what the loader will see.
func Detect() (Arch, error) {
	machine, err := Machine()
	if err == nil {
		if a, perr := ParseArch(machine); perr == nil {
			return a, nil
		}
	}
	return ParseArch(runtime.GOARCH)
}

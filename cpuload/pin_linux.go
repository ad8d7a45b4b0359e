//go:build linux

package cpuload

import "golang.org/x/sys/unix"

func pinCurrentThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	return unix.SchedSetaffinity(0, &set)
}

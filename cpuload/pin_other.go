//go:build !linux

package cpuload

import "errors"

func pinCurrentThread(int) error {
	return errors.New("core pinning is only supported on linux")
}

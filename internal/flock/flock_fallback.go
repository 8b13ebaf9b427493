//go:build !unix

package flock

import (
	"fmt"
	"os"
	"runtime"
)

func tryLock(f *os.File, shared bool) error {
	return fmt.Errorf("flock: advisory locking not supported on %s", runtime.GOOS)
}

func unlock(f *os.File) error {
	return nil
}

func isContention(err error) bool {
	return false
}

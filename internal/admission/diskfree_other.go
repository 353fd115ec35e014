//go:build !unix

package admission

import "errors"

// DiskFree returns a FreeSpaceFunc for the volume containing path.
func DiskFree(path string) FreeSpaceFunc {
	return func() (int64, error) {
		return 0, errors.New("free space query not supported on this platform")
	}
}

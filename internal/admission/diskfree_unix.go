//go:build unix

package admission

import "golang.org/x/sys/unix"

// DiskFree returns a FreeSpaceFunc for the volume containing path.
func DiskFree(path string) FreeSpaceFunc {
	return func() (int64, error) {
		var st unix.Statfs_t
		if err := unix.Statfs(path, &st); err != nil {
			return 0, err
		}
		return int64(st.Bavail) * int64(st.Bsize), nil
	}
}

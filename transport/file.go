package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// umask returns the current process umask.
func umask() int {
	if bs, err := os.ReadFile("/proc/self/status"); err == nil {
		for _, line := range strings.Split(string(bs), "\n") {
			if v, ok := strings.CutPrefix(line, "Umask:"); ok {
				if n, err := strconv.ParseUint(strings.TrimSpace(v), 8, 32); err == nil {
					return int(n)
				}
			}
		}
	}
	// Kernels before 4.7 do not report the umask, and the only other
	// way to read it is to set it.
	old := unix.Umask(0o022)
	unix.Umask(old)
	return old
}

// WriteFileAtomic writes data to path, such that a concurrent reader
// of path sees either the previous contents of the file, or all of
// data. It never sees a partially written file.
//
// data is written to a temporary file in the same directory as path,
// flushed to stable storage, and then renamed over path. The new file
// has mode 0666, less the process umask. On failure, the temporary
// file is removed and path is left untouched.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Chmod(os.FileMode(0o666 &^ umask())); err != nil {
		return fmt.Errorf("setting mode of %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	// The rename itself is only durable once the directory is synced.
	// At this point the new contents are in place, so a failure here
	// is reported but the temporary file is already gone.
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	// Some filesystems refuse fsync on directories.
	if errors.Is(err, unix.EINVAL) {
		err = nil
	}
	return errors.Join(err, d.Close())
}

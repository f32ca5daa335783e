package dispatcher

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listen binds a Unix domain socket at path, removing any stale socket
// file left over from a previous run and restricting access to the
// owning user (0700 on the containing directory, 0600 on the socket
// itself), adapted from the original edgelet listener's
// unlink-then-bind-then-chmod sequence.
func listen(path string) (*net.UnixListener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("set socket directory permissions: %w", err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bind socket: %w", err)
	}
	ul, ok := l.(*net.UnixListener)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("unexpected listener type for unix socket")
	}

	if err := os.Chmod(path, 0600); err != nil {
		ul.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	return ul, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

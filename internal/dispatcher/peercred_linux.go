//go:build linux

package dispatcher

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials extracts the kernel-reported uid/gid/pid of the
// process on the other end of a Unix-domain connection via
// SO_PEERCRED, mirroring what the original edgelet listener obtained
// from the platform socket API before handing a connection to its
// HTTP layer.
func peerCredentials(conn *net.UnixConn) (uid, gid uint32, pid int32, ok bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, 0, false
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || sockErr != nil || ucred == nil {
		return 0, 0, 0, false
	}
	return ucred.Uid, ucred.Gid, ucred.Pid, true
}

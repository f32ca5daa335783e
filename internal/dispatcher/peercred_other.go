//go:build !linux

package dispatcher

import "net"

// peerCredentials has no portable implementation outside Linux's
// SO_PEERCRED; callers on other platforms always see !ok, which the
// dispatcher turns into Unauthorized per spec.
func peerCredentials(conn *net.UnixConn) (uid, gid uint32, pid int32, ok bool) {
	return 0, 0, 0, false
}

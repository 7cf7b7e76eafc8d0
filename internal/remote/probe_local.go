package remote

import (
	"fmt"
	"net"
	"time"
)

// dialProbe is a plain TCP reachability check against a local tunnel
// port, used by the session health loop to detect a dead tunnel without
// depending on the remote HTTP stack.
func dialProbe(localPort int, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", localPort), timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

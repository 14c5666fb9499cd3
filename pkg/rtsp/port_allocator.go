package rtsp

import (
	"fmt"
	"net"
)

// DefaultPortAllocator returns a PortAllocator that tries
// base+2k, base+2k+1 as an RTP/RTCP pair, binding each candidate with
// a transient UDP listener to confirm availability before handing the
// pair back, trying up to 64 successive even-offset pairs starting at
// base and returning an error if none is free.
func DefaultPortAllocator(base int) PortAllocator {
	return func() (rtpPort, rtcpPort int, err error) {
		for k := 0; k < 64; k++ {
			candidate := base + 2*k
			rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: candidate})
			if err != nil {
				continue
			}
			rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: candidate + 1})
			if err != nil {
				rtpConn.Close()
				continue
			}
			rtpConn.Close()
			rtcpConn.Close()
			return candidate, candidate + 1, nil
		}
		return 0, 0, fmt.Errorf("rtsp: no free port pair found starting at %d", base)
	}
}

package lifecycle

import "net"

// localIP returns this host's outbound IPv4 address, used to populate
// the registered instance's ip field. A loopback fallback keeps
// registration working in single-host development setups.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

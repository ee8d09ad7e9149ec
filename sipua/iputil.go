package sipua

import (
	"fmt"
	"net"
)

// localHost returns the address advertised in Via and Contact: the
// configured public address, else the first non-loopback IPv4 of the host.
func localHost(public string) (string, error) {
	if public != "" {
		return public, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

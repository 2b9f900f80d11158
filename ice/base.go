package ice

import (
	"net"
)

// base is the local transport address the agent sends from (RFC 8445's
// definition of "base"), backed by a single UDP socket. Unlike the
// teacher's internal/ice/base.go, which creates one Base (and one
// goroutine) per local interface, spec.md section 1 scopes this core to a
// single component of a single data stream sharing one socket: there is
// exactly one base per agent, reached through the worker's event loop
// rather than a per-base goroutine.
type base struct {
	conn    *net.UDPConn
	address Address
	rawFd   int // for polling only; all I/O goes through conn
}

func listenBase(ip net.IP) (*base, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return nil, err
	}

	b := &base{conn: conn, address: NewAddress(conn.LocalAddr().(*net.UDPAddr))}
	raw, err := conn.SyscallConn()
	if err == nil {
		raw.Control(func(fd uintptr) {
			b.rawFd = int(fd)
		})
	}
	return b, nil
}

func (b *base) Close() error {
	return b.conn.Close()
}

func (b *base) WriteTo(data []byte, addr Address) (int, error) {
	return b.conn.WriteTo(data, addr.UDPAddr())
}

func (b *base) ReadFrom(data []byte) (int, Address, error) {
	n, addr, err := b.conn.ReadFrom(data)
	if err != nil {
		return n, Address{}, err
	}
	return n, addressFromNetAddr(addr), nil
}

// localInterfaceAddrs enumerates non-loopback, up, unicast IPv4/IPv6
// addresses across local interfaces, for host candidate gathering.
// Grounded on the teacher's internal/ice/base.go:initializeBases.
func localInterfaceAddrs(includeIPv6 bool) ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			if ip4 := ip.To4(); ip4 != nil {
				ips = append(ips, ip4)
				continue
			}
			if includeIPv6 && !ip.IsLinkLocalUnicast() {
				ips = append(ips, ip)
			}
		}
	}
	return ips, nil
}

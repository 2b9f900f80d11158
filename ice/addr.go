package ice

import (
	"fmt"
	"net"
)

// Family distinguishes IPv4 from IPv6 addresses.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

// Address is the normalized address record used throughout the agent:
// local bases, candidates, and the source of every inbound datagram are all
// represented as an Address. Grounded on the teacher's TransportAddress
// (internal/ice/transport.go), generalized to carry a zone id for link-local
// IPv6 and to compare by value.
type Address struct {
	Family Family
	IP     [16]byte // IPv4 addresses are stored in the last 4 bytes
	Port   int
	Zone   string
}

// NewAddress normalizes a net.UDPAddr into an Address.
func NewAddress(a *net.UDPAddr) Address {
	addr := Address{Port: a.Port, Zone: a.Zone}
	if ip4 := a.IP.To4(); ip4 != nil {
		addr.Family = IPv4
		copy(addr.IP[12:], ip4)
	} else {
		addr.Family = IPv6
		copy(addr.IP[:], a.IP.To16())
	}
	return addr
}

// UDPAddr converts back to the standard library representation, suitable
// for use with net.PacketConn.WriteTo / ResolveUDPAddr.
func (a Address) UDPAddr() *net.UDPAddr {
	var ip net.IP
	if a.Family == IPv4 {
		ip = net.IP(a.IP[12:16])
	} else {
		b := a.IP
		ip = net.IP(b[:])
	}
	return &net.UDPAddr{IP: append(net.IP(nil), ip...), Port: a.Port, Zone: a.Zone}
}

// Equal compares family, address bytes and port, per spec.md section 3.
func (a Address) Equal(b Address) bool {
	return a.Family == b.Family && a.IP == b.IP && a.Port == b.Port
}

func (a Address) String() string {
	ip := a.UDPAddr().IP
	if a.Zone != "" {
		return fmt.Sprintf("%s%%%s:%d", ip, a.Zone, a.Port)
	}
	return fmt.Sprintf("%s:%d", ip, a.Port)
}

// IsLinkLocal reports whether the address is a link-local unicast address
// (it cannot reach a peer off the local link). Host candidate gathering
// skips IPv6 link-local addresses; IPv4 link-local addresses are gathered.
func (a Address) IsLinkLocal() bool {
	return a.UDPAddr().IP.IsLinkLocalUnicast()
}

// IsLoopback reports whether the address is a loopback address.
func (a Address) IsLoopback() bool {
	return a.UDPAddr().IP.IsLoopback()
}

func addressFromNetAddr(addr net.Addr) Address {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return NewAddress(a)
	default:
		udp, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return Address{}
		}
		return NewAddress(udp)
	}
}

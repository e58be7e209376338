// Package addr provides address-family helpers (IPv4, IPv6, Unix domain)
// on top of the standard net package's address types, grounded on
// original_source/iomultiplex/SockAddr.{hpp,cpp} and UxAddr.{hpp,cpp}.
// The original builds a small SockAddr/UxAddr hierarchy around raw
// sockaddr storage; net.Addr already gives Go that, so this package adds
// only the family classification and equality semantics the core and its
// collaborators need, rather than re-deriving sockaddr storage by hand.
package addr

import (
	"net"

	"golang.org/x/sys/unix"
)

// Family classifies a net.Addr the way SockAddr::family() does.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyInet4
	FamilyInet6
	FamilyUnix
)

// FamilyOf classifies a, returning FamilyUnknown for anything that isn't
// a TCP/UDP/IP/Unix address.
func FamilyOf(a net.Addr) Family {
	switch v := a.(type) {
	case *net.TCPAddr:
		return ipFamily(v.IP)
	case *net.UDPAddr:
		return ipFamily(v.IP)
	case *net.IPAddr:
		return ipFamily(v.IP)
	case *net.UnixAddr:
		return FamilyUnix
	default:
		return FamilyUnknown
	}
}

func ipFamily(ip net.IP) Family {
	if ip.To4() != nil {
		return FamilyInet4
	}
	if ip.To16() != nil {
		return FamilyInet6
	}
	return FamilyUnknown
}

// Equal reports whether a and b name the same endpoint: same family,
// same address bytes, same port (or same path for Unix addresses),
// mirroring SockAddr::operator==.
func Equal(a, b net.Addr) bool {
	if FamilyOf(a) != FamilyOf(b) {
		return false
	}
	switch av := a.(type) {
	case *net.TCPAddr:
		bv, ok := b.(*net.TCPAddr)
		return ok && av.IP.Equal(bv.IP) && av.Port == bv.Port
	case *net.UDPAddr:
		bv, ok := b.(*net.UDPAddr)
		return ok && av.IP.Equal(bv.IP) && av.Port == bv.Port
	case *net.UnixAddr:
		bv, ok := b.(*net.UnixAddr)
		return ok && av.Name == bv.Name
	default:
		return a.String() == b.String()
	}
}

// ToSockaddr converts a into the golang.org/x/sys/unix representation
// needed for raw sendto/recvfrom/bind/connect calls (socketconn.go's
// DatagramSocketConn), the inverse of the original's SockAddr::data().
func ToSockaddr(a net.Addr) (unix.Sockaddr, error) {
	switch v := a.(type) {
	case *net.UDPAddr:
		if ip4 := v.IP.To4(); ip4 != nil {
			var sa unix.SockaddrInet4
			sa.Port = v.Port
			copy(sa.Addr[:], ip4)
			return &sa, nil
		}
		var sa unix.SockaddrInet6
		sa.Port = v.Port
		copy(sa.Addr[:], v.IP.To16())
		return &sa, nil
	case *net.TCPAddr:
		if ip4 := v.IP.To4(); ip4 != nil {
			var sa unix.SockaddrInet4
			sa.Port = v.Port
			copy(sa.Addr[:], ip4)
			return &sa, nil
		}
		var sa unix.SockaddrInet6
		sa.Port = v.Port
		copy(sa.Addr[:], v.IP.To16())
		return &sa, nil
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: v.Name}, nil
	default:
		return nil, net.UnknownNetworkError(a.Network())
	}
}

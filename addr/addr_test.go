package addr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestFamilyOf(t *testing.T) {
	t.Run("inet4", func(t *testing.T) {
		assert.Equal(t, FamilyInet4, FamilyOf(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 80}))
	})
	t.Run("inet6", func(t *testing.T) {
		assert.Equal(t, FamilyInet6, FamilyOf(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}))
	})
	t.Run("unix", func(t *testing.T) {
		assert.Equal(t, FamilyUnix, FamilyOf(&net.UnixAddr{Name: "/tmp/x.sock"}))
	})
	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, FamilyUnknown, FamilyOf(&net.IPNet{}))
	})
}

func TestEqual(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 53}
	b := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 53}
	c := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 53}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 53}))
}

func TestToSockaddr(t *testing.T) {
	t.Run("ipv4", func(t *testing.T) {
		sa, err := ToSockaddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 5353})
		require.NoError(t, err)
		v, ok := sa.(*unix.SockaddrInet4)
		require.True(t, ok)
		assert.Equal(t, 5353, v.Port)
		assert.Equal(t, []byte{192, 168, 1, 1}, v.Addr[:])
	})

	t.Run("unix", func(t *testing.T) {
		sa, err := ToSockaddr(&net.UnixAddr{Name: "/tmp/x.sock"})
		require.NoError(t, err)
		v, ok := sa.(*unix.SockaddrUnix)
		require.True(t, ok)
		assert.Equal(t, "/tmp/x.sock", v.Name)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := ToSockaddr(&net.IPAddr{IP: net.ParseIP("127.0.0.1")})
		assert.Error(t, err)
	})
}

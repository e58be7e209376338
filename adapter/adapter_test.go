package adapter

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxarrhenius/iomultiplex"
	"github.com/dxarrhenius/iomultiplex/conn"
)

// fakeConn is a minimal in-memory iomultiplex.Connection stand-in: DoWrite
// appends to an internal buffer, DoRead drains it. Good enough to test an
// adapter's byte transform without a real reactor or descriptor.
type fakeConn struct {
	buf []byte
}

func (f *fakeConn) Handle() int                      { return 1 }
func (f *fakeConn) IsOpen() bool                     { return true }
func (f *fakeConn) Handler() *iomultiplex.Handler    { return nil }
func (f *fakeConn) Close() error                     { return nil }
func (f *fakeConn) Cancel(_, _, _ bool)              {}
func (f *fakeConn) DoWrite(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}
func (f *fakeConn) DoRead(p []byte) (int, error) {
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

func TestObfuscateAdapterRoundTrip(t *testing.T) {
	inner := &fakeConn{}
	a := NewObfuscateAdapter(inner)

	n, err := a.DoWrite([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.NotEqual(t, "hello world", string(inner.buf), "bytes on the wire must be obfuscated")

	out := make([]byte, 32)
	n, err = a.DoRead(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out[:n]))
}

func TestShuffleAdapterRoundTrip(t *testing.T) {
	inner := &fakeConn{}
	a := NewShuffleAdapter(inner, 42)

	payload := []byte("the quick brown fox")
	_, err := a.DoWrite(payload)
	require.NoError(t, err)
	assert.NotEqual(t, string(payload), string(inner.buf))

	out := make([]byte, 32)
	n, err := a.DoRead(out)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(out[:n]))
}

func TestShuffleAdapterDifferentSeedsDiffer(t *testing.T) {
	a := &fakeConn{}
	b := &fakeConn{}
	payload := []byte("abcdefghij")

	NewShuffleAdapter(a, 1).DoWrite(payload)
	NewShuffleAdapter(b, 2).DoWrite(payload)

	assert.NotEqual(t, string(a.buf), string(b.buf))
}

func newRunningHandler(t *testing.T) *iomultiplex.Handler {
	t.Helper()
	h, err := iomultiplex.New()
	require.NoError(t, err)
	require.NoError(t, h.Run(true))
	t.Cleanup(func() {
		h.Stop()
		h.Join()
	})
	return h
}

// selfSignedCert generates a throwaway ECDSA certificate good enough for
// a loopback TLS handshake in tests; no CA, no real identity.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// TestTLSAdapterRoundTrip drives a real Handler/reactor against a real
// TCP loopback pair with TLSAdapter on both ends: a genuine crypto/tls
// handshake and ciphertext on the wire, not the in-memory fakeConn the
// rest of this file uses. Exercises both DoRead (already covered
// indirectly before) and DoWrite (which previously deadlocked every
// call by routing through the reactor-thread blocking-write guard).
func TestTLSAdapterRoundTrip(t *testing.T) {
	h := newRunningHandler(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCfg := &tls.Config{Certificates: []tls.Certificate{selfSignedCert(t)}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverCh := make(chan *TLSAdapter, 1)
	go func() {
		nc, err := ln.Accept()
		require.NoError(t, err)
		sc, err := conn.NewSocketConn(h, nc)
		require.NoError(t, err)
		serverCh <- NewTLSServerAdapter(sc, serverCfg)
	}()

	cnc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	csc, err := conn.NewSocketConn(h, cnc)
	require.NoError(t, err)
	client := NewTLSAdapter(csc, clientCfg)

	var server *TLSAdapter
	select {
	case server = <-serverCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never accepted")
	}

	n, err := h.WriteBlocking(client, []byte("hello tls"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, len("hello tls"), n)

	buf := make([]byte, 64)
	n, err = h.ReadBlocking(server, buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello tls", string(buf[:n]))

	n, err = h.WriteBlocking(server, []byte("ack"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = h.ReadBlocking(client, buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(buf[:n]))
}

func TestCaseAdapterUpperLower(t *testing.T) {
	t.Run("upper", func(t *testing.T) {
		inner := &fakeConn{}
		a := NewCaseAdapter(inner, UpperCase)
		_, err := a.DoWrite([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "HELLO", string(inner.buf))
	})

	t.Run("lower", func(t *testing.T) {
		inner := &fakeConn{}
		a := NewCaseAdapter(inner, LowerCase)
		_, err := a.DoWrite([]byte("HELLO"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(inner.buf))
	})
}

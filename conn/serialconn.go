package conn

import (
	"fmt"

	"github.com/dxarrhenius/iomultiplex"
	"golang.org/x/sys/unix"
)

// Parity selects the serial parity mode, mirroring the original's parity_t.
type Parity int

const (
	NoParity Parity = iota
	EvenParity
	OddParity
)

// SerialConn is a serial-device connection, configured via termios.
// Grounded on original_source/iomultiplex/SerialConnection.{hpp,cpp}.
type SerialConn struct {
	*FDConn
}

// OpenSerialConn opens device, configures it per the given parameters,
// and wraps it in nonblocking mode for h.
func OpenSerialConn(h *iomultiplex.Handler, device string, baud, dataBits int, parity Parity, stopBits int) (*SerialConn, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	if err := configureTermios(fd, baud, dataBits, parity, stopBits); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &SerialConn{FDConn: NewFDConn(h, fd, false)}, nil
}

func configureTermios(fd, baud, dataBits int, parity Parity, stopBits int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	rate, err := baudRateConstant(baud)
	if err != nil {
		return err
	}

	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	switch dataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
	switch parity {
	case EvenParity:
		t.Cflag |= unix.PARENB
	case OddParity:
		t.Cflag |= unix.PARENB | unix.PARODD
	}
	if stopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	t.Cflag |= unix.CREAD | unix.CLOCAL
	t.Ispeed = rate
	t.Ospeed = rate

	// Raw mode: no line discipline, no echo, no signal-generating input
	// processing, one byte at a time.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func baudRateConstant(baud int) (uint32, error) {
	switch baud {
	case 50:
		return unix.B50, nil
	case 300:
		return unix.B300, nil
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("iomultiplex/conn: unsupported baud rate %d", baud)
	}
}

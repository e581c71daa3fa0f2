package node

import (
	"bytes"
	"net"
)

// EchoProtocol is a line based echo. Every complete line is written back; a
// line reading "quit" closes the connection after its echo.
type EchoProtocol struct{}

func NewEchoProtocol(*net.TCPAddr) Protocol {
	return EchoProtocol{}
}

func (EchoProtocol) Process(in []byte, out *bytes.Buffer, full bool) (int, bool, error) {
	i := bytes.IndexByte(in, '\n')
	if i < 0 {
		if !full {
			return 0, true, nil
		}
		// a line longer than the buffer is echoed in pieces
		out.Write(in)
		return len(in), true, nil
	}

	line := in[:i+1]
	out.Write(line)
	keepAlive := !bytes.Equal(bytes.TrimRight(line, "\r\n"), []byte("quit"))
	return len(line), keepAlive, nil
}

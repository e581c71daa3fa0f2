package httpconn

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrBadRequest     = errors.New("malformed request")
	ErrNotImplemented = errors.New("not implemented")
)

var headerEnd = []byte("\r\n\r\n")

// Request is a parsed HTTP/1.x request. Header names are lower case.
type Request struct {
	Method string
	Target string
	Proto  string
	Major  int
	Minor  int
	Header map[string]string
	Body   []byte
}

// Path returns the target without its query string.
func (r *Request) Path() string {
	if i := strings.IndexByte(r.Target, '?'); i >= 0 {
		return r.Target[:i]
	}
	return r.Target
}

// KeepAlive applies the HTTP/1.1 persistent connection default and the Connection header.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.Header["connection"])
	if r.Major == 1 && r.Minor == 0 {
		return conn == "keep-alive"
	}
	return conn != "close"
}

// ParseRequest parses one request from the start of in. It returns the number
// of bytes the request occupies, or 0 with a nil error while in is incomplete.
// The returned request aliases in.
func ParseRequest(in []byte) (*Request, int, error) {
	end := bytes.Index(in, headerEnd)
	if end < 0 {
		return nil, 0, nil
	}

	lines := strings.Split(string(in[:end]), "\r\n")
	req := &Request{Header: make(map[string]string, len(lines)-1)}
	if err := parseRequestLine(req, lines[0]); err != nil {
		return nil, 0, err
	}

	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, 0, fmt.Errorf("header %q: %w", line, ErrBadRequest)
		}
		name := strings.ToLower(strings.TrimSpace(line[:i]))
		req.Header[name] = strings.TrimSpace(line[i+1:])
	}

	if te, ok := req.Header["transfer-encoding"]; ok && !strings.EqualFold(te, "identity") {
		return nil, 0, fmt.Errorf("transfer-encoding %q: %w", te, ErrNotImplemented)
	}

	n := end + len(headerEnd)
	if cl, ok := req.Header["content-length"]; ok {
		size, err := strconv.Atoi(cl)
		if err != nil || size < 0 {
			return nil, 0, fmt.Errorf("content-length %q: %w", cl, ErrBadRequest)
		}
		if len(in)-n < size {
			return nil, 0, nil
		}
		req.Body = in[n : n+size]
		n += size
	}
	return req, n, nil
}

func parseRequestLine(req *Request, line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("request line %q: %w", line, ErrBadRequest)
	}
	req.Method, req.Target, req.Proto = parts[0], parts[1], parts[2]

	switch req.Proto {
	case "HTTP/1.1":
		req.Major, req.Minor = 1, 1
	case "HTTP/1.0":
		req.Major, req.Minor = 1, 0
	default:
		return fmt.Errorf("protocol %q: %w", req.Proto, ErrBadRequest)
	}
	if !strings.HasPrefix(req.Target, "/") {
		return fmt.Errorf("target %q: %w", req.Target, ErrBadRequest)
	}
	return nil
}

package httpconn

import (
	"bytes"
	"errors"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/node"
	"go.uber.org/zap"
)

const indexPage = `<!DOCTYPE html>
<html><head><title>go-reactor</title></head>
<body><h1>It works</h1></body></html>
`

// Handler serves static files from DocRoot, or a built-in index page when DocRoot is empty.
type Handler struct {
	DocRoot string
	Server  string
	Cache   *FileCache
}

// NewConn is a node.ProtocolFactory.
func (h *Handler) NewConn(peer *net.TCPAddr) node.Protocol {
	return &Conn{h: h, peer: peer}
}

// Conn is the per-connection HTTP state.
type Conn struct {
	h        *Handler
	peer     *net.TCPAddr
	requests int
}

func (c *Conn) Process(in []byte, out *bytes.Buffer, full bool) (int, bool, error) {
	req, n, err := ParseRequest(in)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrNotImplemented) {
			status = http.StatusNotImplemented
		}
		log.Logger.Debug("bad request", zap.Stringer("peer", c.peer), zap.Error(err))
		errorResponse(status).Write(out, c.h.Server, false, false)
		return len(in), false, nil
	}
	if n == 0 {
		if !full {
			return 0, true, nil
		}
		errorResponse(http.StatusRequestEntityTooLarge).Write(out, c.h.Server, false, false)
		return len(in), false, nil
	}

	c.requests++
	keepAlive := req.KeepAlive()
	resp := c.h.serve(req)
	resp.Write(out, c.h.Server, keepAlive, req.Method == http.MethodHead)
	log.Logger.Debug("request",
		zap.Stringer("peer", c.peer),
		zap.String("method", req.Method),
		zap.String("target", req.Target),
		zap.Int("status", resp.Status),
		zap.Int("seq", c.requests))
	return n, keepAlive, nil
}

func (h *Handler) serve(req *Request) *Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		resp := errorResponse(http.StatusMethodNotAllowed)
		resp.Header = [][2]string{{"Allow", "GET, HEAD"}}
		return resp
	}

	p := path.Clean("/" + req.Path())
	if h.DocRoot == "" {
		if p != "/" {
			return errorResponse(http.StatusNotFound)
		}
		return &Response{Status: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: []byte(indexPage)}
	}
	return h.serveFile(p)
}

func (h *Handler) serveFile(p string) *Response {
	name := filepath.Join(h.DocRoot, filepath.FromSlash(p))
	fi, err := os.Stat(name)
	if err == nil && fi.IsDir() {
		name = filepath.Join(name, "index.html")
		fi, err = os.Stat(name)
	}
	if err != nil {
		return fileError(err)
	}
	if !fi.Mode().IsRegular() {
		return errorResponse(http.StatusForbidden)
	}

	body, err := h.Cache.Read(name, fi)
	if err != nil {
		return fileError(err)
	}
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}
	return &Response{Status: http.StatusOK, ContentType: ctype, Body: body}
}

func fileError(err error) *Response {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return errorResponse(http.StatusNotFound)
	case errors.Is(err, os.ErrPermission):
		return errorResponse(http.StatusForbidden)
	}
	log.Logger.Warn("file error", zap.Error(err))
	return errorResponse(http.StatusInternalServerError)
}

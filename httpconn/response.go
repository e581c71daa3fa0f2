package httpconn

import (
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// Response is rendered into a slot's output buffer by Write.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Header      [][2]string
}

func errorResponse(status int) *Response {
	text := http.StatusText(status)
	return &Response{
		Status:      status,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(strconv.Itoa(status) + " " + text + "\n"),
	}
}

// Write renders r. HEAD responses keep Content-Length but omit the body.
func (r *Response) Write(out *bytes.Buffer, server string, keepAlive, head bool) {
	out.WriteString("HTTP/1.1 ")
	out.WriteString(strconv.Itoa(r.Status))
	out.WriteByte(' ')
	out.WriteString(http.StatusText(r.Status))
	out.WriteString("\r\n")

	writeHeader(out, "Date", time.Now().UTC().Format(http.TimeFormat))
	if server != "" {
		writeHeader(out, "Server", server)
	}
	if r.ContentType != "" {
		writeHeader(out, "Content-Type", r.ContentType)
	}
	writeHeader(out, "Content-Length", strconv.Itoa(len(r.Body)))
	for _, h := range r.Header {
		writeHeader(out, h[0], h[1])
	}
	if keepAlive {
		writeHeader(out, "Connection", "keep-alive")
	} else {
		writeHeader(out, "Connection", "close")
	}
	out.WriteString("\r\n")

	if !head {
		out.Write(r.Body)
	}
}

func writeHeader(out *bytes.Buffer, name, value string) {
	out.WriteString(name)
	out.WriteString(": ")
	out.WriteString(value)
	out.WriteString("\r\n")
}

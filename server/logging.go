package server

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// NewLogger builds the engine logger: console output, debug level when debug is set
func NewLogger(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// colorStatus colours a log line by response status class
func colorStatus(code int, line string) string {
	switch {
	case code >= 200 && code < 300:
		return color.GreenString("%s", line)
	case code >= 300 && code < 400:
		return color.YellowString("%s", line)
	case code >= 400:
		return color.RedString("%s", line)
	default:
		return line
	}
}

// accessLine renders `host - - [date] "METHOD path" status-line`
func accessLine(req *Request, res *Response) string {
	host := req.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		if v, ok := req.Header("Host"); ok {
			host, _, _ = strings.Cut(v, ":")
		}
	}
	date, _ := res.Header.Get("Date")
	return fmt.Sprintf("%s - - [%s] \"%s %s\" %s\n", host, date, req.Method, req.Path, res.StatusLine())
}

// AccessLog writes one line per response to w after routing. With debug
// set the line is also echoed to the terminal, coloured by status.
func AccessLog(w io.Writer, debug bool) Middleware {
	var mu sync.Mutex
	return Middleware{
		Name:  "access-log",
		After: true,
		Handle: func(req *Request, res *Response) (*Request, *Response, error) {
			line := accessLine(req, res)

			mu.Lock()
			defer mu.Unlock()
			if debug {
				fmt.Fprint(color.Output, colorStatus(res.Code, line))
			}
			if w != nil {
				if _, err := io.WriteString(w, line); err != nil {
					return req, res, fmt.Errorf("writing access log: %w", err)
				}
			}
			return req, res, nil
		},
	}
}

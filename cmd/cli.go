package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fzft/go-reactor/deps/linenoise"
	"github.com/mattn/go-isatty"
)

var (
	CliHisFileEnv     = "REACTORCLI_HISTFILE"
	CliHisFileDefault = ".reactorcli_history"
)

var errQuit = errors.New("quit")

type CliConnInfo struct {
	hostIp   string
	hostPort int
}

func (c *CliConnInfo) addr() string {
	return net.JoinHostPort(c.hostIp, strconv.Itoa(c.hostPort))
}

// Cli sends HTTP requests to a running server over one keep-alive connection,
// reconnecting when the server closes it.
type Cli struct {
	connInfo *CliConnInfo
	timeout  time.Duration
	out      io.Writer

	conn net.Conn
	rd   *bufio.Reader
}

func NewCli(host string, port int, timeout time.Duration, out io.Writer) *Cli {
	return &Cli{
		connInfo: &CliConnInfo{hostIp: host, hostPort: port},
		timeout:  timeout,
		out:      out,
	}
}

// Run reads commands from a prompt when stdin is a terminal, line by line otherwise.
func (cli *Cli) Run(in io.Reader) error {
	defer cli.disconnect()

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return cli.repl()
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if err := cli.Execute(sc.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(cli.out, "(error) %v\n", err)
		}
	}
	return sc.Err()
}

func (cli *Cli) repl() error {
	line := linenoise.New()
	defer line.Close()

	historyFile := getDotfilePath(CliHisFileEnv, CliHisFileDefault)
	if historyFile != "" {
		line.HistoryLoad(historyFile)
	}

	for {
		text, err := line.Prompt(cli.prompt())
		if err != nil {
			// ctrl-c or ctrl-d
			return nil
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		line.AppendHistory(text)
		if historyFile != "" {
			line.HistorySave(historyFile)
		}

		if argv := splitArgs(text); len(argv) == 1 && strings.EqualFold(argv[0], "clear") {
			line.ClearScreen()
			continue
		}
		if err := cli.Execute(text); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(cli.out, "(error) %v\n", err)
		}
	}
}

func (cli *Cli) prompt() string {
	if cli.conn == nil {
		return "not connected> "
	}
	return cli.connInfo.addr() + "> "
}

// Execute runs one command line:
//
//	[repeat] [METHOD] /path
//	connect host port
//	quit | exit
func (cli *Cli) Execute(line string) error {
	argv := splitArgs(line)
	if len(argv) == 0 {
		return nil
	}

	switch {
	case strings.EqualFold(argv[0], "quit"), strings.EqualFold(argv[0], "exit"):
		return errQuit
	case strings.EqualFold(argv[0], "connect"):
		if len(argv) != 3 {
			return fmt.Errorf("usage: connect host port")
		}
		port, err := strconv.Atoi(argv[2])
		if err != nil {
			return fmt.Errorf("invalid port number %q", argv[2])
		}
		cli.disconnect()
		cli.connInfo = &CliConnInfo{hostIp: argv[1], hostPort: port}
		return cli.connect()
	}

	// check if we have a repeat count and need to skip the first arg
	repeat := 1
	if n, err := strconv.Atoi(argv[0]); err == nil && len(argv) > 1 {
		if n <= 0 {
			return fmt.Errorf("invalid repeat count %d", n)
		}
		repeat = n
		argv = argv[1:]
	}

	method, target, err := parseRequestArgs(argv)
	if err != nil {
		return err
	}
	for i := 0; i < repeat; i++ {
		if err := cli.roundTrip(method, target); err != nil {
			return err
		}
	}
	return nil
}

func (cli *Cli) connect() error {
	conn, err := net.DialTimeout("tcp", cli.connInfo.addr(), cli.timeout)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", cli.connInfo.addr(), err)
	}
	cli.conn = conn
	cli.rd = bufio.NewReader(conn)
	return nil
}

func (cli *Cli) disconnect() {
	if cli.conn != nil {
		cli.conn.Close()
		cli.conn = nil
		cli.rd = nil
	}
}

func (cli *Cli) roundTrip(method, target string) error {
	if cli.conn == nil {
		if err := cli.connect(); err != nil {
			return err
		}
	}

	req := buildRequest(method, target, cli.connInfo.addr())
	if cli.timeout > 0 {
		cli.conn.SetDeadline(time.Now().Add(cli.timeout))
	}
	if _, err := io.WriteString(cli.conn, req); err != nil {
		cli.disconnect()
		return err
	}

	resp, err := http.ReadResponse(cli.rd, &http.Request{Method: method})
	if err != nil {
		cli.disconnect()
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		cli.disconnect()
		return err
	}

	fmt.Fprintf(cli.out, "%s %s\n", resp.Proto, resp.Status)
	if len(body) > 0 {
		fmt.Fprintf(cli.out, "%s", body)
		if body[len(body)-1] != '\n' {
			fmt.Fprintln(cli.out)
		}
	}
	if resp.Close {
		cli.disconnect()
	}
	return nil
}

func parseRequestArgs(argv []string) (method, target string, err error) {
	switch len(argv) {
	case 1:
		method, target = http.MethodGet, argv[0]
	case 2:
		method, target = strings.ToUpper(argv[0]), argv[1]
	default:
		return "", "", fmt.Errorf("usage: [repeat] [METHOD] /path")
	}
	if !strings.HasPrefix(target, "/") {
		return "", "", fmt.Errorf("path must start with '/': %q", target)
	}
	return method, target, nil
}

func buildRequest(method, target, host string) string {
	var b strings.Builder
	b.WriteString(method + " " + target + " HTTP/1.1\r\n")
	b.WriteString("Host: " + host + "\r\n")
	b.WriteString("User-Agent: reactor-cli\r\n")
	b.WriteString("Connection: keep-alive\r\n")
	b.WriteString("\r\n")
	return b.String()
}

// splitArgs splits a command line on whitespace, honouring double quotes.
func splitArgs(line string) []string {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		hasArg  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			hasArg = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasArg {
				args = append(args, cur.String())
				cur.Reset()
				hasArg = false
			}
		default:
			cur.WriteRune(r)
			hasArg = true
		}
	}
	if hasArg {
		args = append(args, cur.String())
	}
	return args
}

func getDotfilePath(envOverride, dotFilename string) string {
	path := os.Getenv(envOverride)
	if path != "" {
		if path == "/dev/null" {
			return ""
		}
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", home, dotFilename)
}

package agentclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// authTokenEnvVar carries the auth token into the spawned CLI process. The
// token never appears on argv.
const authTokenEnvVar = "AGENT_SDK_AUTH_TOKEN"

// portAnnounceTimeout bounds the wait for a TCP-mode CLI to print its port.
const portAnnounceTimeout = 10 * time.Second

var portAnnouncement = regexp.MustCompile(`(?i)listening on port (\d+)`)

// launchEnv is the launcher's environment-variable configuration. Values set
// in the environment take precedence over code-supplied options.
type launchEnv struct {
	// CLIPath overrides the agent CLI command. ENV: AGENT_CLI_PATH
	CLIPath string `env:"AGENT_CLI_PATH"`
	// LogLevel overrides the CLI log level. ENV: AGENT_CLI_LOG_LEVEL
	LogLevel string `env:"AGENT_CLI_LOG_LEVEL"`
}

func loadLaunchEnv() launchEnv {
	var cfg launchEnv
	// All fields are optional; defaults live in clientOptions.
	_ = envdecode.Decode(&cfg)
	return cfg
}

// launcher establishes the duplex byte stream the engine runs over: spawned
// CLI stdio, a spawned CLI's announced TCP port, an external server address,
// or caller-injected io.
type launcher struct {
	opts *clientOptions

	cmd    *exec.Cmd
	conn   net.Conn
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func newLauncher(opts *clientOptions) *launcher {
	env := loadLaunchEnv()
	if env.CLIPath != "" {
		opts.cliPath = env.CLIPath
	}
	if env.LogLevel != "" {
		opts.logLevel = env.LogLevel
	}
	return &launcher{opts: opts}
}

// connect establishes the transport and returns its read and write ends.
func (l *launcher) connect() (io.Reader, io.Writer, error) {
	if l.opts.injectedIO {
		return l.opts.reader, l.opts.writer, nil
	}
	if l.opts.serverURL != "" {
		host, port, err := parseServerURL(l.opts.serverURL)
		if err != nil {
			return nil, nil, err
		}
		conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return nil, nil, fmt.Errorf("agentclient: dial %s: %w", l.opts.serverURL, err)
		}
		l.conn = conn
		return conn, conn, nil
	}
	return l.spawn()
}

func (l *launcher) spawn() (io.Reader, io.Writer, error) {
	argv := l.argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.opts.workingDir
	cmd.Env = l.environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agentclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agentclient: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("agentclient: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("agentclient: start cli %q: %w", argv[0], err)
	}
	l.cmd = cmd
	go drainLines(stderr)

	if !l.opts.useTCP {
		l.stdin = stdin
		l.stdout = stdout
		return stdout, stdin, nil
	}

	port, err := awaitPortAnnouncement(stdout, portAnnounceTimeout)
	if err != nil {
		l.kill()
		return nil, nil, err
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		l.kill()
		return nil, nil, fmt.Errorf("agentclient: dial cli port %d: %w", port, err)
	}
	l.conn = conn
	l.stdin = stdin
	return conn, conn, nil
}

// argv builds the CLI command line. Extra args precede the standard headless
// flags so they cannot displace transport selection.
func (l *launcher) argv() []string {
	o := l.opts
	var argv []string
	if strings.HasSuffix(o.cliPath, ".js") {
		argv = append(argv, "node", o.cliPath)
	} else {
		argv = append(argv, o.cliPath)
	}
	argv = append(argv, o.cliArgs...)
	argv = append(argv, "--headless", "--no-auto-update", "--log-level", o.logLevel)
	if o.useTCP {
		if o.tcpPort > 0 {
			argv = append(argv, "--port", strconv.Itoa(o.tcpPort))
		}
	} else {
		argv = append(argv, "--stdio")
	}
	if o.authToken != "" {
		argv = append(argv, "--auth-token-env", authTokenEnvVar)
	}
	if o.noAutoLogin {
		argv = append(argv, "--no-auto-login")
	}
	return argv
}

// environ builds the child environment. A caller-supplied env replaces the
// inherited one wholesale; the auth token is layered on top either way.
func (l *launcher) environ() []string {
	o := l.opts
	var env []string
	switch {
	case o.env != nil:
		env = make([]string, 0, len(o.env)+1)
		for k, v := range o.env {
			env = append(env, k+"="+v)
		}
	case o.authToken != "":
		env = os.Environ()
	default:
		return nil // inherit
	}
	if o.authToken != "" {
		env = append(env, authTokenEnvVar+"="+o.authToken)
	}
	return env
}

// awaitPortAnnouncement scans child stdout for the port line. The scanning
// goroutine keeps draining stdout afterwards so the child never blocks on a
// full pipe.
func awaitPortAnnouncement(stdout io.Reader, timeout time.Duration) (int, error) {
	type scanResult struct {
		port int
		err  error
	}
	ch := make(chan scanResult, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			m := portAnnouncement.FindStringSubmatch(sc.Text())
			if m == nil {
				continue
			}
			port, err := strconv.Atoi(m[1])
			ch <- scanResult{port: port, err: err}
			for sc.Scan() {
			}
			return
		}
		ch <- scanResult{err: errors.New("agentclient: cli exited before announcing port")}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return 0, res.err
		}
		return res.port, nil
	case <-time.After(timeout):
		return 0, errors.New("agentclient: timed out waiting for the cli to announce its port")
	}
}

func drainLines(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
	}
}

// parseServerURL accepts "host:port", ":port", a bare port, or an http(s)
// URL of one of those. A missing host defaults to localhost.
func parseServerURL(url string) (string, int, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	clean = strings.TrimSuffix(clean, "/")

	if port, err := strconv.Atoi(clean); err == nil {
		if port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("agentclient: invalid port in server url %q", url)
		}
		return "localhost", port, nil
	}

	host, portStr, ok := strings.Cut(clean, ":")
	if !ok {
		return "", 0, fmt.Errorf("agentclient: invalid server url %q", url)
	}
	if host == "" {
		host = "localhost"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("agentclient: invalid port in server url %q", url)
	}
	return host, port, nil
}

// closeTransport closes the byte streams without touching the process.
func (l *launcher) closeTransport() error {
	var errs []error
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket: %w", err))
		}
		l.conn = nil
	}
	if l.stdin != nil {
		if err := l.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		l.stdin = nil
	}
	if l.stdout != nil {
		if err := l.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
		l.stdout = nil
	}
	return errors.Join(errs...)
}

// kill force-terminates the spawned process, if any. Reaps the child so no
// zombie lingers.
func (l *launcher) kill() {
	if l.cmd == nil {
		return
	}
	if l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
	}
	_ = l.cmd.Wait()
	l.cmd = nil
}

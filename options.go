package agentclient

import (
	"io"
	"log/slog"
	"time"
)

// Option configures a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	log *slog.Logger

	cliPath    string
	cliArgs    []string
	commandSet bool
	workingDir string
	env        map[string]string
	logLevel   string

	authToken   string
	noAutoLogin bool

	// Transport selection. Exactly one of stdio spawn (default), tcp spawn,
	// external server, or injected io applies.
	useTCP     bool
	tcpPort    int
	serverURL  string
	reader     io.Reader
	writer     io.Writer
	injectedIO bool

	autoStart      bool
	requestTimeout time.Duration
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		cliPath:  "agent",
		logLevel: "info",
	}
}

// WithLogger sets the logger used by the client and its RPC engine.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithCommand overrides the agent CLI command and prepends extra arguments
// ahead of the standard headless flags. A path ending in .js is run under
// node.
func WithCommand(path string, args ...string) Option {
	return func(o *clientOptions) {
		if path != "" {
			o.cliPath = path
		}
		o.cliArgs = args
		o.commandSet = true
	}
}

// WithWorkingDir sets the working directory of the spawned CLI process.
func WithWorkingDir(dir string) Option {
	return func(o *clientOptions) {
		o.workingDir = dir
	}
}

// WithEnv replaces the spawned process environment wholesale. When unset the
// child inherits the parent environment.
func WithEnv(env map[string]string) Option {
	return func(o *clientOptions) {
		o.env = env
	}
}

// WithAuthToken authenticates the spawned CLI with the given token instead
// of the logged-in user. The token travels via the process environment, not
// argv.
func WithAuthToken(token string) Option {
	return func(o *clientOptions) {
		o.authToken = token
		o.noAutoLogin = true
	}
}

// WithNoAutoLogin prevents the spawned CLI from initiating an interactive
// login flow.
func WithNoAutoLogin() Option {
	return func(o *clientOptions) {
		o.noAutoLogin = true
	}
}

// WithLogLevel sets the spawned CLI's log level (default "info").
func WithLogLevel(level string) Option {
	return func(o *clientOptions) {
		if level != "" {
			o.logLevel = level
		}
	}
}

// WithTCP spawns the CLI in TCP mode and dials the announced port. A zero
// port lets the CLI pick one, announced on its stdout.
func WithTCP(port int) Option {
	return func(o *clientOptions) {
		o.useTCP = true
		o.tcpPort = port
	}
}

// WithServerURL connects to an already-running agent server instead of
// spawning one. Accepts "host:port", ":port", a bare port, or an http(s) URL
// of one of those. Mutually exclusive with spawn options.
func WithServerURL(url string) Option {
	return func(o *clientOptions) {
		o.serverURL = url
	}
}

// WithIO connects over a caller-supplied byte stream pair, bypassing process
// management entirely.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(o *clientOptions) {
		if r != nil && w != nil {
			o.reader = r
			o.writer = w
			o.injectedIO = true
		}
	}
}

// WithAutoStart makes RPC-issuing methods start the client on first use
// instead of requiring an explicit Start call.
func WithAutoStart() Option {
	return func(o *clientOptions) {
		o.autoStart = true
	}
}

// WithRequestTimeout sets the default deadline applied to outgoing RPC calls
// whose context has none.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

package agentclient

import (
	"io"
	"slices"
	"strings"
	"testing"
	"time"
)

func buildOptions(opts ...Option) *clientOptions {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func TestParseServerURL(t *testing.T) {
	cases := []struct {
		in      string
		host    string
		port    int
		wantErr string
	}{
		{in: "localhost:9000", host: "localhost", port: 9000},
		{in: "https://localhost:9000/", host: "localhost", port: 9000},
		{in: "http://127.0.0.1:8080", host: "127.0.0.1", port: 8080},
		{in: "agent.internal:443", host: "agent.internal", port: 443},
		{in: "9000", host: "localhost", port: 9000},
		{in: ":9000", host: "localhost", port: 9000},
		{in: "example.com:70000", wantErr: "invalid port"},
		{in: "example.com:abc", wantErr: "invalid port"},
		{in: "0", wantErr: "invalid port"},
		{in: "noport", wantErr: "invalid server url"},
	}
	for _, tc := range cases {
		host, port, err := parseServerURL(tc.in)
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("parseServerURL(%q) err = %v, want %q", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseServerURL(%q): %v", tc.in, err)
			continue
		}
		if host != tc.host || port != tc.port {
			t.Errorf("parseServerURL(%q) = %s:%d, want %s:%d", tc.in, host, port, tc.host, tc.port)
		}
	}
}

func TestArgv_StdioDefaults(t *testing.T) {
	l := &launcher{opts: defaultClientOptions()}
	want := []string{"agent", "--headless", "--no-auto-update", "--log-level", "info", "--stdio"}
	if got := l.argv(); !slices.Equal(got, want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
}

func TestArgv_NodeScript(t *testing.T) {
	l := &launcher{opts: buildOptions(WithCommand("./dist/agent.js"))}
	argv := l.argv()
	if argv[0] != "node" || argv[1] != "./dist/agent.js" {
		t.Fatalf("argv = %v", argv)
	}
}

func TestArgv_TCPAndAuth(t *testing.T) {
	l := &launcher{opts: buildOptions(
		WithCommand("agent", "--experimental"),
		WithTCP(8123),
		WithAuthToken("tok"),
		WithLogLevel("debug"),
	)}
	argv := l.argv()

	if slices.Contains(argv, "--stdio") {
		t.Error("--stdio must not appear in tcp mode")
	}
	if i := slices.Index(argv, "--port"); i < 0 || argv[i+1] != "8123" {
		t.Errorf("argv = %v, want --port 8123", argv)
	}
	if i := slices.Index(argv, "--auth-token-env"); i < 0 || argv[i+1] != authTokenEnvVar {
		t.Errorf("argv = %v, want --auth-token-env %s", argv, authTokenEnvVar)
	}
	if slices.Contains(argv, "tok") {
		t.Error("the token itself must never appear on argv")
	}
	if !slices.Contains(argv, "--no-auto-login") {
		t.Errorf("argv = %v, WithAuthToken implies --no-auto-login", argv)
	}
	if i := slices.Index(argv, "--log-level"); i < 0 || argv[i+1] != "debug" {
		t.Errorf("argv = %v, want --log-level debug", argv)
	}
	// Caller args come before the standard flags.
	if slices.Index(argv, "--experimental") > slices.Index(argv, "--headless") {
		t.Errorf("argv = %v, caller args must precede standard flags", argv)
	}
}

func TestArgv_TCPWithoutPort(t *testing.T) {
	l := &launcher{opts: buildOptions(WithTCP(0))}
	argv := l.argv()
	if slices.Contains(argv, "--port") || slices.Contains(argv, "--stdio") {
		t.Fatalf("argv = %v", argv)
	}
}

func TestEnviron(t *testing.T) {
	t.Run("inherits by default", func(t *testing.T) {
		l := &launcher{opts: defaultClientOptions()}
		if env := l.environ(); env != nil {
			t.Fatalf("environ = %v, want nil", env)
		}
	})

	t.Run("explicit env replaces wholesale", func(t *testing.T) {
		l := &launcher{opts: buildOptions(
			WithEnv(map[string]string{"FOO": "bar"}),
			WithAuthToken("tok"),
		)}
		env := l.environ()
		if len(env) != 2 {
			t.Fatalf("environ = %v", env)
		}
		if !slices.Contains(env, "FOO=bar") || !slices.Contains(env, authTokenEnvVar+"=tok") {
			t.Fatalf("environ = %v", env)
		}
	})

	t.Run("token alone layers onto inherited env", func(t *testing.T) {
		t.Setenv("AGENT_TEST_MARKER", "present")
		l := &launcher{opts: buildOptions(WithAuthToken("tok"))}
		env := l.environ()
		if !slices.Contains(env, "AGENT_TEST_MARKER=present") {
			t.Fatal("inherited environment lost")
		}
		if !slices.Contains(env, authTokenEnvVar+"=tok") {
			t.Fatal("token not injected")
		}
	})
}

func TestAwaitPortAnnouncement(t *testing.T) {
	t.Run("finds the announced port", func(t *testing.T) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "agent starting\n")
			_, _ = io.WriteString(pw, "Listening on port 8123\n")
			_, _ = io.WriteString(pw, "later noise\n")
			_ = pw.Close()
		}()
		port, err := awaitPortAnnouncement(pr, 2*time.Second)
		if err != nil {
			t.Fatalf("awaitPortAnnouncement: %v", err)
		}
		if port != 8123 {
			t.Fatalf("port = %d", port)
		}
	})

	t.Run("matches case-insensitively", func(t *testing.T) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "LISTENING ON PORT 9\n")
			_ = pw.Close()
		}()
		port, err := awaitPortAnnouncement(pr, 2*time.Second)
		if err != nil || port != 9 {
			t.Fatalf("port, err = %d, %v", port, err)
		}
	})

	t.Run("eof before announcement", func(t *testing.T) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "crashed on startup\n")
			_ = pw.Close()
		}()
		_, err := awaitPortAnnouncement(pr, 2*time.Second)
		if err == nil || !strings.Contains(err.Error(), "exited before announcing port") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("silent child times out", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		_, err := awaitPortAnnouncement(pr, 50*time.Millisecond)
		if err == nil || !strings.Contains(err.Error(), "timed out waiting") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestNewLauncher_EnvironmentOverridesOptions(t *testing.T) {
	t.Setenv("AGENT_CLI_PATH", "/opt/custom-agent")
	t.Setenv("AGENT_CLI_LOG_LEVEL", "debug")

	l := newLauncher(buildOptions(WithCommand("ignored"), WithLogLevel("warn")))
	argv := l.argv()
	if argv[0] != "/opt/custom-agent" {
		t.Errorf("argv[0] = %q, env override must win", argv[0])
	}
	if i := slices.Index(argv, "--log-level"); i < 0 || argv[i+1] != "debug" {
		t.Errorf("argv = %v, want --log-level debug", argv)
	}
}

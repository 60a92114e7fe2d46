package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	agentclient "github.com/ggoodman/agent-client-go"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type chatConfig struct {
	cliPath    string
	serverURL  string
	model      string
	workingDir string
	logLevel   string
	resumeID   string
}

func newRootCmd() *cobra.Command {
	var cfg chatConfig

	cmd := &cobra.Command{
		Use:           "agentchat",
		Short:         "Interactive terminal chat against a headless coding agent",
		Long:          "agentchat spawns (or connects to) an agent server and turns stdin lines into prompts, printing each turn's final assistant message.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.cliPath, "cli", "", `agent CLI command (default "agent", or AGENT_CLI_PATH)`)
	cmd.Flags().StringVar(&cfg.serverURL, "server-url", "", "connect to a running agent server instead of spawning one")
	cmd.Flags().StringVar(&cfg.model, "model", "", "model id for the session")
	cmd.Flags().StringVar(&cfg.workingDir, "dir", "", "working directory for the spawned agent")
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", "info", "agent CLI log level")
	cmd.Flags().StringVar(&cfg.resumeID, "resume", "", "resume an existing session id")

	return cmd
}

func runChat(ctx context.Context, cfg chatConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	opts := []agentclient.Option{
		agentclient.WithLogger(log),
		agentclient.WithLogLevel(cfg.logLevel),
		agentclient.WithRequestTimeout(5 * time.Minute),
	}
	if cfg.cliPath != "" {
		opts = append(opts, agentclient.WithCommand(cfg.cliPath))
	}
	if cfg.serverURL != "" {
		opts = append(opts, agentclient.WithServerURL(cfg.serverURL))
	}
	if cfg.workingDir != "" {
		opts = append(opts, agentclient.WithWorkingDir(cfg.workingDir))
	}

	client, err := agentclient.New(opts...)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Stop(context.Background()) }()

	sessCfg := &agentclient.SessionConfig{
		Model:            cfg.model,
		WorkingDirectory: cfg.workingDir,
	}
	var sess *agentclient.Session
	if cfg.resumeID != "" {
		sess, err = client.ResumeSession(ctx, cfg.resumeID, sessCfg)
	} else {
		sess, err = client.CreateSession(ctx, sessCfg)
	}
	if err != nil {
		return err
	}
	defer func() { _ = sess.Destroy(context.Background()) }()

	fmt.Printf("session %s ready. Type a prompt, %q to quit.\n", sess.ID(), "exit")

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		ev, err := sess.SendAndWait(ctx, line)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if ev == nil {
			fmt.Println("(no assistant reply)")
			continue
		}
		content, _ := ev.Data["content"].(string)
		fmt.Println(content)
	}
	return sc.Err()
}

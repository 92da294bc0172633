package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parla/internal/app"
	"github.com/MrWong99/parla/internal/workflow"
)

var chatVerbose bool

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant in text mode",
	Long: `Run the assistant pipeline on typed text instead of audio. Recognition is
skipped; intent routing, tools and the completion backend work as in
voice mode.

Without an argument an interactive prompt is started. With an argument a
single message is answered.

Examples:
  parla chat "计算 2+3*4 等于多少"
  parla chat`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "show intent, tool and latency for each answer")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep the prompt clean unless debugging.
	level := newLogger(cfg.Server.LogLevel)
	if level.Level() < slog.LevelWarn && !chatVerbose {
		level.Set(slog.LevelWarn)
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	engine := application.Engine()
	out := cmd.OutOrStdout()

	if len(args) > 0 {
		answer(ctx, out, engine, strings.Join(args, " "))
		return nil
	}

	fmt.Fprintln(out, "parla chat, type \"exit\" to quit")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		answer(ctx, out, engine, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func answer(ctx context.Context, out io.Writer, engine *workflow.Engine, text string) {
	st := engine.Run(ctx, workflow.Input{Text: text})
	fmt.Fprintln(out, st.Response)
	if chatVerbose {
		fmt.Fprintf(out, "  [intent=%s tool=%s latency=%s]\n", st.Intent, st.Tool, st.Latency())
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/l1jgo/modbus/internal/config"
)

// lineReader reads operator commands from the terminal. It only queues
// lines; the loop goroutine executes them.
type lineReader struct {
	rl *readline.Instance
}

func newLineReader(cfg config.ConsoleConfig) (*lineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("events"),
			readline.PcItem("events-by-mod"),
			readline.PcItem("listeners"),
			readline.PcItem("fire"),
			readline.PcItem("fire-delayed"),
			readline.PcItem("mods"),
			readline.PcItem("reload"),
			readline.PcItem("lua"),
			readline.PcItem("diag"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, err
	}
	return &lineReader{rl: rl}, nil
}

// Stdout writes above the prompt without corrupting the line being edited.
func (r *lineReader) Stdout() io.Writer {
	return r.rl.Stdout()
}

// Run reads until ctx is done, the operator interrupts, or input ends.
// Lines that cannot be queued are reported and dropped.
func (r *lineReader) Run(ctx context.Context, submit func(string) bool, quit func()) {
	for {
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				quit()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !submit(line) {
			io.WriteString(r.rl.Stderr(), "busy, command dropped\n")
		}
	}
}

func (r *lineReader) Close() error {
	return r.rl.Close()
}

// Package console implements the operator command surface of the bus host.
// Commands run on the tick loop goroutine; the reader goroutine only queues
// lines.
package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/l1jgo/modbus/internal/core/event"
	"github.com/l1jgo/modbus/internal/diag"
	"github.com/l1jgo/modbus/internal/scripting"
	"go.uber.org/zap"
)

// ModHost is the part of the Lua host the console drives.
type ModHost interface {
	Mods() []scripting.ModStatus
	Exec(mod, src string) error
}

// DiagnosticReader reads back persisted diagnostics.
type DiagnosticReader interface {
	Recent(ctx context.Context, limit int) ([]diag.Entry, error)
}

// Deps bundles what commands need. Diag and Reload may be nil.
type Deps struct {
	Bus    *event.Bus
	Mods   ModHost
	Reload func() ([]string, error)
	Diag   DiagnosticReader
	Quit   func()
	Log    *zap.Logger
}

type Console struct {
	deps Deps
	out  io.Writer
}

func New(deps Deps, out io.Writer) *Console {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Quit == nil {
		deps.Quit = func() {}
	}
	return &Console{deps: deps, out: out}
}

// Execute parses and runs one command line.
func (c *Console) Execute(line string) {
	parts, err := shellquote.Split(line)
	if err != nil {
		c.printf("parse error: %v\n", err)
		return
	}
	if len(parts) == 0 {
		return
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	c.deps.Log.Debug("console command", zap.String("cmd", cmd), zap.Strings("args", args))

	switch cmd {
	case "help", "?":
		c.help()
	case "events":
		c.events()
	case "events-by-mod":
		c.eventsByMod(args)
	case "listeners":
		c.listeners(args)
	case "fire":
		c.fire(args)
	case "fire-delayed":
		c.fireDelayed(args)
	case "mods":
		c.mods()
	case "reload":
		c.reload()
	case "lua":
		c.lua(args)
	case "diag":
		c.diag(args)
	case "quit", "exit":
		c.printf("shutting down\n")
		c.deps.Quit()
	default:
		c.printf("unknown command %q, try help\n", cmd)
	}
}

func (c *Console) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}

func (c *Console) help() {
	c.printf(`commands:
  events                          list declared events
  events-by-mod <mod>             list events declared by a mod
  listeners <event>               list listeners in dispatch order
  fire <event> [args...]          fire now
  fire-delayed <event> <ms> [args...]
  mods                            list loaded mods
  reload                          reload changed mods
  lua <mod> <code>                run Lua as mod
  diag [n]                        show the n most recent stored diagnostics
  quit                            shut down
`)
}

func (c *Console) events() {
	descs := c.deps.Bus.Events()
	if len(descs) == 0 {
		c.printf("no events declared\n")
		return
	}
	c.printDescriptors(descs)
}

func (c *Console) eventsByMod(args []string) {
	if len(args) != 1 {
		c.printf("usage: events-by-mod <mod>\n")
		return
	}
	descs := c.deps.Bus.EventsByMod(args[0])
	if len(descs) == 0 {
		c.printf("no events declared by %s\n", args[0])
		return
	}
	c.printDescriptors(descs)
}

func (c *Console) printDescriptors(descs []event.EventDescriptor) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, d := range descs {
		fmt.Fprintf(tw, "%s\tlisteners=%d\tcached=%d\n", d.Name, c.deps.Bus.ListenerCount(d.Name), c.deps.Bus.CachedCount(d.Name))
		for _, decl := range d.Declarations {
			fmt.Fprintf(tw, "  %s\t%s\t(%s)\n", decl.OwnerMod, decl.Description, strings.Join(decl.Params, ", "))
		}
	}
	tw.Flush()
}

func (c *Console) listeners(args []string) {
	if len(args) != 1 {
		c.printf("usage: listeners <event>\n")
		return
	}
	infos := c.deps.Bus.ListenersOf(args[0])
	if len(infos) == 0 {
		c.printf("no listeners for %s\n", args[0])
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for i, l := range infos {
		owner := l.OwnerMod
		if owner == "" {
			owner = "<unknown mod>"
		}
		once := ""
		if l.Once {
			once = "once"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, owner, once)
	}
	tw.Flush()
}

func (c *Console) fire(args []string) {
	if len(args) < 1 {
		c.printf("usage: fire <event> [args...]\n")
		return
	}
	r := c.deps.Bus.FireEvent(args[0], parseValues(args[1:])...)
	if r.Cached {
		c.printf("%s: no listeners, cached (%d pending)\n", r.Event, c.deps.Bus.CachedCount(r.Event))
		return
	}
	c.printf("%s: %d listeners, %d failed\n", r.Event, len(r.Outcomes), r.Failures())
	for _, o := range r.Outcomes {
		if !o.OK() {
			c.printf("  %v\n", o.Err)
		}
	}
}

func (c *Console) fireDelayed(args []string) {
	if len(args) < 2 {
		c.printf("usage: fire-delayed <event> <ms> [args...]\n")
		return
	}
	ms, err := strconv.Atoi(args[1])
	if err != nil {
		c.printf("invalid delay %q\n", args[1])
		return
	}
	c.deps.Bus.FireEventDelayed(args[0], time.Duration(ms)*time.Millisecond, parseValues(args[2:])...)
	c.printf("%s: scheduled in %dms\n", args[0], max(ms, 0))
}

func (c *Console) mods() {
	mods := c.deps.Mods.Mods()
	if len(mods) == 0 {
		c.printf("no mods loaded\n")
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tVERSION\tSCRIPTS\tDIGEST\tSTATUS\n")
	for _, m := range mods {
		status := "ok"
		if m.Err != nil {
			status = "error: " + m.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", m.Name, m.Version, m.Scripts, m.Digest, status)
	}
	tw.Flush()
}

func (c *Console) reload() {
	if c.deps.Reload == nil {
		c.printf("reload not available\n")
		return
	}
	names, err := c.deps.Reload()
	if err != nil {
		c.printf("reload failed: %v\n", err)
		return
	}
	if len(names) == 0 {
		c.printf("no mods changed\n")
		return
	}
	c.printf("reloaded: %s\n", strings.Join(names, ", "))
}

func (c *Console) lua(args []string) {
	if len(args) < 2 {
		c.printf("usage: lua <mod> <code>\n")
		return
	}
	if err := c.deps.Mods.Exec(args[0], strings.Join(args[1:], " ")); err != nil {
		c.printf("lua error: %v\n", err)
	}
}

func (c *Console) diag(args []string) {
	if c.deps.Diag == nil {
		c.printf("diagnostics persistence is disabled\n")
		return
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			c.printf("invalid count %q\n", args[0])
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	entries, err := c.deps.Diag.Recent(ctx, limit)
	if err != nil {
		c.printf("diag query failed: %v\n", err)
		return
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format("15:04:05"), e.Level, e.Event, e.Mod, e.Message, e.Fields)
	}
	tw.Flush()
}

// parseValues turns console words into event arguments: integers, floats,
// booleans and nil are recognised, anything else stays a string.
func parseValues(words []string) []any {
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = parseValue(w)
	}
	return out
}

func parseValue(w string) any {
	if n, err := strconv.Atoi(w); err == nil {
		return n
	}
	if strings.ContainsAny(w, "0123456789") {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			return f
		}
	}
	switch w {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	return w
}

package command

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"coinbot.ai/api"
	"coinbot.ai/data"
)

func (r *Registry) registerSystem() {
	r.Register(&Command{
		Name:        "hello",
		Description: "Say hi",
		Handler: func(ctx *Context, args []string) (string, error) {
			return "hi", nil
		},
	})
	r.Register(&Command{
		Name:        "help",
		Description: "Show this help",
		Handler:     r.help,
	})
	r.Register(&Command{
		Name:        "commands",
		Description: "Show this help",
		Handler:     r.help,
	})
	r.Register(&Command{
		Name:        "status",
		Description: "Server status and debug info",
		Handler:     r.status,
	})
}

func (r *Registry) help(ctx *Context, args []string) (string, error) {
	return r.Help(), nil
}

func (r *Registry) status(ctx *Context, args []string) (string, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Format memory in MB
	allocMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024

	var b strings.Builder
	fmt.Fprintf(&b, "🔧 Server Status\n\nMemory\n• Alloc: %.1f MB\n• Sys: %.1f MB\n• GC cycles: %d\n",
		allocMB, sysMB, m.NumGC)

	b.WriteString("\nCoin list\n")
	var (
		tbl     *data.Table
		updated time.Time
	)
	if r.deps.Store != nil {
		tbl, updated = r.deps.Store.Snapshot()
	}
	if tbl.Len() == 0 {
		b.WriteString("• not loaded yet\n")
	} else {
		fmt.Fprintf(&b, "• Coins: %d\n• Updated: %s\n", tbl.Len(), api.FormatTimeAgo(updated))
	}

	fmt.Fprintf(&b, "\nUptime: %s\n", time.Since(r.started).Round(time.Second))

	if r.deps.Stats != nil {
		b.WriteString("\n")
		b.WriteString(r.deps.Stats.Summary())
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

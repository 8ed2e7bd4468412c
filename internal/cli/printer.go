package cli

import (
	"github.com/fatih/color"

	"github.com/hearthlist/wpcache/internal/content"
)

type printer struct {
	Success func(format string, a ...interface{}) string
	Error   func(format string, a ...interface{}) string
	Warning func(format string, a ...interface{}) string
	Info    func(format string, a ...interface{}) string
}

func newPrinter() *printer {
	return &printer{
		Success: color.New(color.FgGreen).SprintfFunc(),
		Error:   color.New(color.FgRed).SprintfFunc(),
		Warning: color.New(color.FgYellow).SprintfFunc(),
		Info:    color.New(color.FgBlue).SprintfFunc(),
	}
}

func (p *printer) state(s content.State) string {
	switch s {
	case content.StateHit:
		return p.Success("%s", s)
	case content.StateStale, content.StateDegraded:
		return p.Warning("%s", s)
	default:
		return p.Info("%s", s)
	}
}

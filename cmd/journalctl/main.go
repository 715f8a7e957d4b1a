// Command journalctl is an operator console for inspecting a
// journal on disk: it scans every segment once, lists the records found,
// and lets an operator scroll through them. It appends no records and
// never resolves or matches against tree names. It opens the journal
// through journal.Open, which opens the newest segment read-write and
// creates generation 0 if no segment file exists.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	basePath := flag.String("journal", "", "base path of the journal to inspect (required)")
	flag.Parse()

	if *basePath == "" {
		fmt.Fprintln(os.Stderr, "usage: journalctl -journal <basePath>")
		os.Exit(2)
	}

	model, err := NewModel(*basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journalctl: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "journalctl: %v\n", err)
		os.Exit(1)
	}
}

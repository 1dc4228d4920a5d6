package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/camview/internal/tui"
	"github.com/zsiec/camview/pkg/version"
)

func main() {
	var (
		addr        string
		streamURL   string
		interval    time.Duration
		captureFor  time.Duration
		showVersion bool
	)

	flag.StringVar(&addr, "addr", "http://localhost:8080", "camview control API address")
	flag.StringVar(&streamURL, "url", "", "Stream URL sent when starting an idle player")
	flag.DurationVar(&interval, "interval", time.Second, "Status polling interval")
	flag.DurationVar(&captureFor, "capture", 20*time.Second, "Capture duration")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	client := tui.NewClient(addr, 5*time.Second)
	model := tui.NewModel(client, tui.Options{
		Interval:        interval,
		URL:             streamURL,
		CaptureDuration: captureFor,
	})

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "camview-top: %v\n", err)
		os.Exit(1)
	}
}

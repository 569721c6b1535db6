package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/processor"
	"github.com/ShayCichocki/taskloom/internal/tui"
)

var (
	watchRefresh time.Duration
	watchLimit   int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the queue in a terminal UI",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", time.Second, "Refresh interval")
	watchCmd.Flags().IntVarP(&watchLimit, "limit", "n", 100, "Recent tasks to load")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.signalsDir()
	source := tui.StoreSource(a.db, watchLimit, func() (bool, bool) { return signalState(dir) })
	controls := tui.Controls{
		Pause:  func() error { return processor.SendSignal(dir, processor.PauseSignal) },
		Resume: func() error { return processor.ClearSignal(dir, processor.PauseSignal) },
		Stop:   func() error { return processor.SendSignal(dir, processor.StopSignal) },
	}

	_, err = tui.NewProgram(tui.NewMonitor(source, controls, watchRefresh)).Run()
	return err
}

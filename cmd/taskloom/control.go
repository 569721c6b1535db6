package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskloom/internal/processor"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the processor after its current cohort",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(dir string) error {
			if err := processor.SendSignal(dir, processor.PauseSignal); err != nil {
				return err
			}
			printStatus("⏸", "Pause requested. Running tasks finish; nothing new is claimed.", color.FgYellow)
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(dir string) error {
			if err := processor.ClearSignal(dir, processor.PauseSignal); err != nil {
				return err
			}
			printStatus("▶", "Resumed.", color.FgGreen)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the processor after its current cohort",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(dir string) error {
			if err := processor.SendSignal(dir, processor.StopSignal); err != nil {
				return err
			}
			printStatus("■", "Stop requested.", color.FgRed)
			return nil
		})
	},
}

func withSignals(fn func(dir string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return fn(signalsDirFor(cfg.Store.Path))
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

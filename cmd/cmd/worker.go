package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background content analyzer",
	Long: `Continuously sweeps saved bookmarks that lack an AI analysis and fills
them in, respecting the per-user API budget. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if workerOnce {
			n, err := a.analyzer.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("analyzed %d bookmarks\n", n)
			return nil
		}
		return a.analyzer.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "run a single sweep and exit")
	rootCmd.AddCommand(workerCmd)
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bookmind/internal/tui"
)

var importPlain bool

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk import URLs from a file (one per line, - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.currentUser(ctx)
		if err != nil {
			return err
		}
		urls, err := readURLs(args[0])
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			return fmt.Errorf("no urls found in %s", args[0])
		}

		jobID, err := a.ingest.StartImport(ctx, user.ID, urls)
		if err != nil {
			return err
		}

		if importPlain {
			return followPlain(ctx, a, user.ID, jobID)
		}
		events := a.hub.Subscribe(ctx, user.ID, jobID, 0)
		return tui.RunImport(jobID, events, func() {
			a.hub.Cancel(context.Background(), user.ID, jobID)
		})
	},
}

// followPlain prints one line per event, for scripts and dumb terminals.
func followPlain(ctx context.Context, a *app, userID int64, jobID string) error {
	fmt.Println("job", jobID)
	for ev := range a.hub.Subscribe(ctx, userID, jobID, 0) {
		if ev.Error != "" {
			fmt.Printf("[%d/%d] FAIL %s: %s\n", ev.Processed, ev.Total, ev.LastURL, ev.Error)
		} else if ev.LastURL != "" {
			fmt.Printf("[%d/%d] ok   %s\n", ev.Processed, ev.Total, ev.LastURL)
		} else {
			fmt.Printf("%s: %d saved (%d new, %d updated), %d failed\n",
				ev.Status, ev.Succeeded, ev.Created, ev.Updated, ev.Failed)
		}
	}
	return nil
}

func readURLs(path string) ([]string, error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	var urls []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func init() {
	importCmd.Flags().BoolVar(&importPlain, "plain", false, "line-oriented output instead of the live view")
	rootCmd.AddCommand(importCmd)
}

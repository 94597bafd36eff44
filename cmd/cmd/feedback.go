package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bookmind/internal/core"
)

var feedbackNote string

var feedbackCmd = &cobra.Command{
	Use:   "feedback <bookmark-id> <type>",
	Short: "Record a reaction to a recommendation",
	Long: `Feedback sharpens future recommendations. Types:
  ` + strings.Join(core.FeedbackTypes, ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		contentID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bookmark id must be a number: %q", args[0])
		}
		feedbackType := strings.ToLower(args[1])
		if !core.ValidFeedbackType(feedbackType) {
			return fmt.Errorf("unknown feedback type %q, want one of: %s",
				feedbackType, strings.Join(core.FeedbackTypes, ", "))
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.currentUser(ctx)
		if err != nil {
			return err
		}
		ev := &core.FeedbackEvent{
			UserID:       user.ID,
			ContentID:    contentID,
			FeedbackType: feedbackType,
		}
		if feedbackNote != "" {
			ev.ContextData = map[string]string{"note": feedbackNote}
		}
		if err := a.learner.Record(ctx, ev); err != nil {
			return err
		}
		fmt.Printf("Recorded %q for bookmark #%d.\n", feedbackType, contentID)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "optional context note")
	rootCmd.AddCommand(feedbackCmd)
}

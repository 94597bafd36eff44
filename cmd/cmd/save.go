package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookmind/internal/ingest"
)

var (
	saveTitle    string
	saveNotes    string
	saveCategory string
	saveTags     []string
	saveForce    bool
)

var saveCmd = &cobra.Command{
	Use:   "save <url>",
	Short: "Save a bookmark: scrape, score, embed, store",
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
		result, err := a.ingest.Save(ctx, ingest.SaveRequest{
			UserID:   user.ID,
			URL:      args[0],
			Title:    saveTitle,
			Notes:    saveNotes,
			Category: saveCategory,
			Tags:     saveTags,
			Force:    saveForce,
		})
		if err != nil {
			return err
		}

		b := result.Bookmark
		switch {
		case result.Deduplicated:
			fmt.Printf("Already saved (#%d): %s\n", b.ID, b.Title)
			fmt.Println("Metadata merged. Use --force to re-scrape.")
		case result.Created:
			fmt.Printf("Saved (#%d): %s\n", b.ID, b.Title)
		default:
			fmt.Printf("Updated (#%d): %s\n", b.ID, b.Title)
		}
		fmt.Printf("quality %d/10", b.QualityScore)
		if len(b.Embedding) > 0 {
			fmt.Print(" · embedded")
		}
		if len(b.Tags) > 0 {
			fmt.Print(" · " + strings.Join(b.Tags, ", "))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveTitle, "title", "", "override the scraped title")
	saveCmd.Flags().StringVar(&saveNotes, "notes", "", "personal notes")
	saveCmd.Flags().StringVar(&saveCategory, "category", "", "category label")
	saveCmd.Flags().StringSliceVar(&saveTags, "tags", nil, "comma-separated tags")
	saveCmd.Flags().BoolVar(&saveForce, "force", false, "re-scrape even if the URL is already saved")
	rootCmd.AddCommand(saveCmd)
}

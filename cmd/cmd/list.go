package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookmind/internal/store"
)

var (
	listQuery    string
	listCategory string
	listTag      string
	listLimit    int
	listOffset   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved bookmarks, newest first",
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
		items, total, err := a.store.ListBookmarks(ctx, user.ID,
			store.BookmarkFilter{Query: listQuery, Category: listCategory, Tag: listTag},
			store.Page{Limit: listLimit, Offset: listOffset})
		if err != nil {
			return err
		}

		for _, b := range items {
			line := fmt.Sprintf("#%-5d %s", b.ID, b.Title)
			if b.Category != "" {
				line += "  [" + b.Category + "]"
			}
			if len(b.Tags) > 0 {
				line += "  " + strings.Join(b.Tags, ",")
			}
			fmt.Println(line)
			fmt.Printf("       %s  (quality %d, saved %s)\n",
				b.URL, b.QualityScore, b.SavedAt.Format("2006-01-02"))
		}
		fmt.Printf("%d of %d bookmarks\n", len(items), total)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listQuery, "query", "", "substring match on title, notes or url")
	listCmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "page size")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "page offset")
	rootCmd.AddCommand(listCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookmind/internal/embedding"
)

var reembedBatch int

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Backfill embeddings for bookmarks saved while the embedder was down",
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

		total := 0
		for {
			missing, err := a.store.ListMissingEmbeddings(ctx, user.ID, reembedBatch)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				break
			}
			texts := make([]string, len(missing))
			for i, b := range missing {
				texts[i] = embedding.CanonicalText(embedding.Source{
					Title: b.Title,
					Notes: b.Notes,
					Body:  b.ExtractedText,
				})
			}
			vectors, err := a.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			for i, b := range missing {
				if err := a.store.UpdateEmbedding(ctx, user.ID, b.ID, vectors[i]); err != nil {
					return err
				}
				total++
			}
			if len(missing) < reembedBatch {
				break
			}
		}
		if a.cache != nil {
			a.cache.InvalidateUserContent(ctx, user.ID)
		}
		fmt.Printf("embedded %d bookmarks\n", total)
		return nil
	},
}

func init() {
	reembedCmd.Flags().IntVar(&reembedBatch, "batch", 32, "bookmarks per embedding batch")
	rootCmd.AddCommand(reembedCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookmind/internal/core"
	"bookmind/internal/tui"
)

var (
	recTechnologies []string
	recProjectID    int64
	recEngine       string
	recMax          int
	recMinScore     float64
	recMinQuality   int
	recJSON         bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <context...>",
	Short: "Rank your saved bookmarks against a work context",
	Long: `Describe what you are working on and get back the saved bookmarks most
worth revisiting, each with a short reason.

  bookmind recommend "building a rest api in go" --tech go,postgres`,
	Args: cobra.MinimumNArgs(1),
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
		result, err := a.recommend.GetRecommendations(ctx, &core.RecommendRequest{
			UserID:           user.ID,
			Title:            strings.Join(args, " "),
			Technologies:     recTechnologies,
			ProjectID:        recProjectID,
			EnginePreference: recEngine,
			MaxResults:       recMax,
			MinScore:         recMinScore,
			MinQuality:       recMinQuality,
		})
		if err != nil {
			return err
		}

		if recJSON {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		fmt.Print(tui.RenderRecommendations(result))
		return nil
	},
}

func init() {
	recommendCmd.Flags().StringSliceVar(&recTechnologies, "tech", nil, "technologies in play")
	recommendCmd.Flags().Int64Var(&recProjectID, "project", 0, "project id to reuse intent from")
	recommendCmd.Flags().StringVar(&recEngine, "engine", "", "fast_semantic or context_aware (default: auto)")
	recommendCmd.Flags().IntVar(&recMax, "max", 0, "max results")
	recommendCmd.Flags().Float64Var(&recMinScore, "min-score", 0, "minimum score")
	recommendCmd.Flags().IntVar(&recMinQuality, "min-quality", 0, "minimum content quality 0-10")
	recommendCmd.Flags().BoolVar(&recJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(recommendCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var apikeyName string

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage your personal Gemini API key and usage budget",
}

var apikeySetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store your own Gemini API key (encrypted at rest)",
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
		if err := a.keys.SetKey(ctx, user.ID, args[0], apikeyName); err != nil {
			return err
		}
		fmt.Println("API key stored. LLM calls now use your key and its quota.")
		return nil
	},
}

var apikeyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove your stored API key",
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
		if err := a.keys.ClearKey(ctx, user.ID); err != nil {
			return err
		}
		fmt.Println("API key removed. Usage counters are retained.")
		return nil
	},
}

var apikeyUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show current rate-limit window usage",
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
		usage, err := a.keys.GetUsage(ctx, user.ID)
		if err != nil {
			return err
		}
		if usage.HasKey {
			name := usage.KeyName
			if name == "" {
				name = "unnamed"
			}
			fmt.Printf("Personal key: %s\n", name)
		} else {
			fmt.Println("No personal key; using the shared default key.")
		}
		fmt.Printf("This minute: %4d / %d\n", usage.RequestsThisMinute, a.cfg.Limits.PerMinute)
		fmt.Printf("Today:       %4d / %d\n", usage.RequestsToday, a.cfg.Limits.PerDay)
		fmt.Printf("This month:  %4d / %d\n", usage.RequestsThisMonth, a.cfg.Limits.PerMonth)
		return nil
	},
}

func init() {
	apikeySetCmd.Flags().StringVar(&apikeyName, "name", "", "label for the key")
	apikeyCmd.AddCommand(apikeySetCmd, apikeyClearCmd, apikeyUsageCmd)
	rootCmd.AddCommand(apikeyCmd)
}

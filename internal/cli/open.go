package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/directory"
)

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().String("listing", "", "listing id the conversation is about")
	openCmd.Flags().StringSlice("with", nil, "counterpart user id(s)")
	_ = openCmd.MarkFlagRequired("listing")
	_ = openCmd.MarkFlagRequired("with")
}

var openCmd = &cobra.Command{
	Use:   "open --listing <id> --with <user>[,<user>...]",
	Short: "Open (or create) the conversation about a listing",
	Long: `open resolves the conversation about a listing with the given
counterpart(s). At most one conversation exists per listing and
participant set, so repeating the command returns the same one.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		openConversation(cmd)
	},
}

func openConversation(cmd *cobra.Command) {
	client, cfg, err := newClient(cmd)
	if err != nil {
		log.Fatal(err)
	}
	listing, _ := cmd.Flags().GetString("listing")
	with, _ := cmd.Flags().GetStringSlice("with")

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	dir := directory.New(client, cfg.Actor.ID)
	conv, err := dir.GetOrCreate(ctx, listing, with)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("conversation %s (listing %s)\n", conv.ID, conv.ListingID)
	for _, p := range conv.Participants {
		if p.Name != "" {
			fmt.Printf("  - %s (%s)\n", p.ID, p.Name)
		} else {
			fmt.Printf("  - %s\n", p.ID)
		}
	}
}

package cli

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/models"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations, newest activity first",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		listConversations(cmd)
	},
}

func listConversations(cmd *cobra.Command) {
	client, _, err := newClient(cmd)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	convs, err := client.ListConversations(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if len(convs) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastActivityTS > convs[j].LastActivityTS
	})

	fmt.Printf("%-12s  %-14s  %-17s  %s\n", "ID", "LISTING", "LAST ACTIVITY", "TITLE")
	for _, c := range convs {
		fmt.Printf("%-12s  %-14s  %-17s  %s\n", c.ID, c.ListingID, formatTS(c.LastActivityTS), conversationLabel(c))
	}
	fmt.Printf("\n%d conversation(s)\n", len(convs))
}

// conversationLabel prefers the title, then the last message preview, then
// the participant list.
func conversationLabel(c models.Conversation) string {
	if c.Title != "" {
		return c.Title
	}
	if c.LastMessage != nil && c.LastMessage.Body != "" {
		return truncate(c.LastMessage.Body, 40)
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Name != "" {
			names = append(names, p.Name)
		} else {
			names = append(names, p.ID)
		}
	}
	if len(names) == 0 {
		return "(empty)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

func formatTS(ns int64) string {
	if ns == 0 {
		return "-"
	}
	return time.Unix(0, ns).Local().Format("2006-01-02 15:04")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

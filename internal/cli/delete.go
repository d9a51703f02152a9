package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/models"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation> <message-id>",
	Short: "Delete one of your confirmed messages",
	Long: `delete removes the message body everywhere. The slot stays in the
conversation as a tombstone; deleting an already-deleted message is a no-op.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		deleteMessage(cmd, args[0], args[1])
	},
}

func deleteMessage(cmd *cobra.Command, convID, messageID string) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	comp, _, cleanup, err := composerFor(ctx, cmd, convID)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err := comp.Delete(ctx, models.MessageID(messageID)); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("deleted %s\n", messageID)
}

package cli

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/models"
)

func init() {
	rootCmd.AddCommand(editCmd)
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation> <message-id> <text>...",
	Short: "Edit one of your confirmed messages",
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		editMessage(cmd, args[0], args[1], strings.Join(args[2:], " "))
	},
}

func editMessage(cmd *cobra.Command, convID, messageID, body string) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	comp, lg, cleanup, err := composerFor(ctx, cmd, convID)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	id := models.MessageID(messageID)
	if err := comp.Edit(ctx, id, body); err != nil {
		log.Fatal(err)
	}
	if m, ok := lg.Get(id); ok && m.Deleted {
		fmt.Printf("%s was already deleted on the backend\n", messageID)
		return
	}
	fmt.Printf("edited %s\n", messageID)
}

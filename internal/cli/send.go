package cli

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/cache"
	"parley/pkg/composer"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/session"
	"parley/pkg/state"
	"parley/pkg/store"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("kind", models.KindText, "message kind (text, offer)")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>...",
	Short: "Send a message into a conversation",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		sendMessage(cmd, args[0], strings.Join(args[1:], " "), kind)
	},
}

func sendMessage(cmd *cobra.Command, convID, body, kind string) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	comp, _, cleanup, err := composerFor(ctx, cmd, convID)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	msg, err := comp.Submit(ctx, body, kind)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("sent %s at %s\n", msg.ID, formatTS(msg.TS))
}

// composerFor loads the conversation log and builds a composer over it. The
// returned cleanup closes the cache mirror if this invocation opened it;
// the mirror is best-effort because a running parleyd holds the pebble lock.
func composerFor(ctx context.Context, cmd *cobra.Command, convID string) (*composer.Composer, *store.Log, func(), error) {
	client, cfg, err := newClient(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {}
	cacheDir := cfg.Cache.Dir
	if cacheDir == "" {
		cacheDir = state.CacheDir(state.DefaultBaseDir())
	}
	if err := cache.Open(cacheDir); err != nil {
		logger.Debug("cache_unavailable", "dir", cacheDir, "error", err)
	} else {
		cleanup = func() { _ = cache.Close() }
	}

	stores := store.NewManager(cfg.Cache.TTL.Duration())
	lg := stores.Get(convID)
	if _, err := lg.Load(ctx, client); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	self := session.Actor{ID: cfg.Actor.ID, Name: cfg.Actor.Name}
	return composer.New(convID, self, lg, client), lg, cleanup, nil
}

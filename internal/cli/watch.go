package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parley/pkg/cache"
	"parley/pkg/feed"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/presence"
	"parley/pkg/session"
	"parley/pkg/shutdown"
	"parley/pkg/state"
	"parley/pkg/store"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Int("tail", 20, "number of backlog messages to print")
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation>",
	Short: "Follow a conversation live",
	Long: `watch prints the conversation backlog and then follows the live
feed: new messages, edits, deletions and typing peers. Read receipts are
reported upstream for everything shown. Ctrl-C to stop.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tail, _ := cmd.Flags().GetInt("tail")
		watchConversation(cmd, args[0], tail)
	},
}

func watchConversation(cmd *cobra.Command, convID string, tail int) {
	client, cfg, err := newClient(cmd)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(cmd.Context())
	defer cancel()

	// the mirror speeds up the first paint; a running parleyd may hold the
	// pebble lock, in which case we go straight to the network
	cacheDir := cfg.Cache.Dir
	if cacheDir == "" {
		cacheDir = state.CacheDir(state.DefaultBaseDir())
	}
	if err := cache.Open(cacheDir); err != nil {
		logger.Debug("cache_unavailable", "dir", cacheDir, "error", err)
	} else {
		defer cache.Close()
	}

	stores := store.NewManager(cfg.Cache.TTL.Duration())
	lg := stores.Get(convID)
	msgs, err := lg.Load(ctx, client)
	if err != nil {
		log.Fatal(err)
	}
	sub := lg.Subscribe()

	overlay := presence.NewTracker(0)
	fd, err := feed.New(cfg.WSEndpoint(), client.Session(), cfg.Actor.ID, stores, overlay)
	if err != nil {
		log.Fatal(err)
	}
	feedErr := make(chan error, 1)
	go func() { feedErr <- fd.Run(ctx) }()

	fmt.Printf("watching %s as %s\n\n", convID, cfg.Actor.ID)
	if tail > 0 && len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	var lastSeen int64
	for _, m := range msgs {
		printMessage(m)
		if m.TS > lastSeen {
			lastSeen = m.TS
		}
	}
	if lastSeen > 0 {
		fd.SendRead(convID, lastSeen)
	}

	typingLine := ""
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-feedErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				if errors.Is(err, session.ErrInvalidated) {
					log.Fatal("session invalidated; refresh your credential")
				}
				log.Fatal(err)
			}
			return
		case ev := <-sub:
			printEvent(ev)
			if ev.Type == store.EventAppend && ev.Message.TS > lastSeen {
				lastSeen = ev.Message.TS
				fd.SendRead(convID, lastSeen)
			}
		case <-ticker.C:
			line := renderTyping(overlay.Typing(convID))
			if line != typingLine {
				typingLine = line
				if line != "" {
					fmt.Println(line)
				}
			}
		}
	}
}

func printEvent(ev store.Event) {
	switch ev.Type {
	case store.EventAppend:
		printMessage(ev.Message)
	case store.EventEdit:
		fmt.Printf("[%s] %s edited: %s\n", formatClock(ev.Message.EditedTS), senderLabel(ev.Message), ev.Message.Body)
	case store.EventDelete:
		fmt.Printf("[%s] %s deleted a message\n", formatClock(time.Now().UnixNano()), senderLabel(ev.Message))
	}
}

func printMessage(m models.Message) {
	suffix := ""
	if m.Edited {
		suffix = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", formatClock(m.TS), senderLabel(m), m.Body, suffix)
}

func senderLabel(m models.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.Sender
}

func formatClock(ns int64) string {
	if ns == 0 {
		return "--:--:--"
	}
	return time.Unix(0, ns).Local().Format("15:04:05")
}

func renderTyping(peers []string) string {
	switch len(peers) {
	case 0:
		return ""
	case 1:
		return peers[0] + " is typing"
	default:
		return strings.Join(peers, ", ") + " are typing"
	}
}

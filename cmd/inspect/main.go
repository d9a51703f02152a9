package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"parley/pkg/cache"
	"parley/pkg/logger"
	"parley/pkg/state"
)

// inspect dumps the parleyd cache mirror: which conversations it holds,
// how many messages each, and how stale every entry is. Run it while
// parleyd is stopped; pebble allows one process at a time.

func main() {
	var p string
	var ttlStr string
	var tail int
	flag.StringVar(&p, "path", "", "cache directory (default: the parleyd state dir)")
	flag.StringVar(&ttlStr, "ttl", "24h", "freshness window used to flag stale entries")
	flag.IntVar(&tail, "tail", 0, "also print the newest N messages per conversation")
	flag.Parse()

	logger.InitWithLevel("warn")

	if p == "" {
		p = state.CacheDir(state.DefaultBaseDir())
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad --ttl: %v\n", err)
		os.Exit(2)
	}

	if err := cache.OpenReadOnly(p); err != nil {
		log.Fatalf("open cache at %s: %v (is parleyd running?)", p, err)
	}
	defer cache.Close()

	keys, err := cache.Keys("conv:")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("🔍 Inspecting cache mirror:")
	fmt.Println("=====================================")

	convs := 0
	stale := 0
	totalMsgs := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ":log") {
			continue
		}
		convID := strings.TrimSuffix(strings.TrimPrefix(key, "conv:"), ":log")
		raw, err := cache.Get(key)
		if err != nil {
			fmt.Printf("%s: unreadable: %v\n", convID, err)
			continue
		}
		var ent cache.Entry
		if err := json.Unmarshal(raw, &ent); err != nil {
			fmt.Printf("%s: corrupt entry: %v\n", convID, err)
			continue
		}
		convs++
		totalMsgs += len(ent.Messages)
		age := time.Since(time.Unix(0, ent.WrittenTS)).Round(time.Second)
		status := "fresh"
		if age > ttl {
			status = "STALE"
			stale++
		}
		fmt.Printf("\n%s: %d message(s), written %s ago (%s)\n", convID, len(ent.Messages), age, status)

		if tail > 0 {
			msgs := ent.Messages
			if len(msgs) > tail {
				msgs = msgs[len(msgs)-tail:]
			}
			for _, m := range msgs {
				body := m.Body
				if m.Deleted {
					body = "(deleted)"
				}
				fmt.Printf("  [%s] %s: %s\n", time.Unix(0, m.TS).Format("2006-01-02 15:04:05"), m.Sender, body)
			}
		}
	}

	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("  Conversations: %d\n", convs)
	fmt.Printf("  Messages: %d\n", totalMsgs)
	fmt.Printf("  Stale entries: %d (ttl %s)\n", stale, ttl)
}

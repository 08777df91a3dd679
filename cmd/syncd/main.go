// syncd is a small companion tool for the offline outbox: it can enqueue a
// transaction draft while the server is unreachable, show queue status, and
// drain pending entries into a running ledger.
//
//	syncd -data ~/.uangku enqueue < draft.json
//	syncd -data ~/.uangku status
//	syncd -data ~/.uangku -server http://localhost:8081 -token $TOKEN sync
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mufa2906/uangku/pkg/outbox"
	"github.com/mufa2906/uangku/pkg/syncer"
)

func main() {
	dataDir := flag.String("data", ".uangku", "directory holding the outbox stores")
	server := flag.String("server", "http://localhost:8081", "ledger base URL")
	token := flag.String("token", "", "bearer token for the ledger")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: syncd [flags] enqueue|status|sync")
		os.Exit(2)
	}

	ctx := context.Background()
	logger := slog.Default()

	store, err := outbox.Open(ctx, *dataDir, logger)
	if err != nil {
		logger.Error("open outbox", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	queue := outbox.NewQueue(store, logger)

	switch flag.Arg(0) {
	case "enqueue":
		var draft outbox.Draft
		if err := json.NewDecoder(os.Stdin).Decode(&draft); err != nil {
			logger.Error("decode draft", "err", err)
			os.Exit(1)
		}
		localID, err := queue.Enqueue(ctx, draft)
		if err != nil {
			logger.Error("enqueue", "err", err)
			os.Exit(1)
		}
		fmt.Println(localID)

	case "status":
		entries, err := store.List(ctx)
		if err != nil {
			logger.Error("list", "err", err)
			os.Exit(1)
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s\t%s\t%s %s", e.LocalID, e.State, e.Draft.Type, e.Draft.Amount)
			if e.FailReason != "" {
				line += "\t" + e.FailReason
			}
			fmt.Println(line)
		}

	case "sync":
		probe := syncer.NewProbe(*server, 0)
		if !probe.Check(ctx) {
			fmt.Fprintln(os.Stderr, "server unreachable, entries stay pending")
			os.Exit(1)
		}
		tok := *token
		orch := syncer.New(queue, *server, func(context.Context) (string, error) { return tok, nil }, probe, syncer.Options{Logger: logger})
		if err := orch.SyncPending(ctx); err != nil {
			logger.Error("sync", "err", err)
			os.Exit(1)
		}
		pending, err := queue.ListPending(ctx)
		if err == nil {
			fmt.Printf("sync complete, %d entries still pending\n", len(pending))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

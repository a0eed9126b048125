// Package main is an interactive terminal client for the venue assistant.
// It embeds user queries, searches the venue index, and chats through a
// local Ollama model.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tastegraph/gusto-engine/engine/assist"
	"github.com/tastegraph/gusto-engine/engine/geo"
	"github.com/tastegraph/gusto-engine/engine/index"
	"github.com/tastegraph/gusto-engine/engine/intent"
	"github.com/tastegraph/gusto-engine/engine/rank"
	"github.com/tastegraph/gusto-engine/engine/semantic"
	"github.com/tastegraph/gusto-engine/pkg/ollama"
	"github.com/tastegraph/gusto-engine/pkg/rerank"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedModel := envOr("EMBED_MODEL", "nomic-embed-text")
	chatModel := envOr("CHAT_MODEL", "llama3.1")
	rerankerURL := envOr("RERANKER_URL", "http://localhost:8081")
	backend := envOr("INDEX_BACKEND", "memory")
	snapshotPath := envOr("SNAPSHOT_PATH", "data/venues.jsonl")
	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "venues")
	city := envOr("CITY", "Lodz, Poland")

	if err := run(ollamaURL, embedModel, chatModel, rerankerURL, backend, snapshotPath, qdrantAddr, collection, city, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ollamaURL, embedModel, chatModel, rerankerURL, backend, snapshotPath, qdrantAddr, collection, city string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var retriever rank.Retriever
	switch backend {
	case "qdrant":
		store, err := semantic.New(qdrantAddr, collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer store.Close()
		retriever = store
	default:
		flat, err := index.LoadSnapshotFile(snapshotPath)
		if err != nil {
			return fmt.Errorf("load snapshot %s: %w", snapshotPath, err)
		}
		retriever = flat
	}

	rankSvc, err := rank.New(
		ollama.NewEmbedClient(ollamaURL, embedModel),
		retriever,
		rerank.New(rerankerURL),
		rank.Options{},
		logger,
	)
	if err != nil {
		return err
	}

	analyzer := intent.NewAnalyzer(ollama.NewChatClient(ollamaURL, chatModel), city, logger)
	geocoder := geo.NewNominatim("", "gusto-chat/1.0", city)
	assistant := assist.New(analyzer, rankSvc, geocoder, assist.Options{AskForLocation: true}, logger)

	fmt.Printf("Venue assistant for %s. Type your request, or \"quit\" to exit.\n\n", city)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		reply, err := assistant.Respond(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(reply)
		fmt.Println()
	}
	return scanner.Err()
}

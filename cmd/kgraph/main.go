package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quantumflow/kgraph/internal/kgraph"
)

const version = "0.1.0-alpha"

func main() {
	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	cfg := kgraph.ConfigFromEnv()
	svc, err := kgraph.NewService(ctx, cfg)
	if err != nil {
		fmt.Printf("✗ failed to start: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close(context.Background())

	g, err := svc.Graph(ctx)
	if err != nil {
		fmt.Printf("✗ failed to load graph: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d entities, %d relations from %s\n\n", len(g.Entities), len(g.Relations), cfg.StoragePath)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("kgraph> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleCommand(ctx, svc, line); err != nil {
			fmt.Printf("✗ %v\n", err)
		}
	}
}

func handleCommand(ctx context.Context, svc *kgraph.Service, line string) error {
	parts := strings.Fields(line)
	cmd := parts[0]

	switch cmd {
	case "/help":
		fmt.Println("\nCommands:")
		fmt.Println("  create <name> <type> [observation...]")
		fmt.Println("  relate <from> <to> <relationType>")
		fmt.Println("  observe <name> <observation...>")
		fmt.Println("  search <query>               basic search")
		fmt.Println("  boolean <expr>               e.g. pasta AND NOT spicy")
		fmt.Println("  rank <query>                 TF-IDF ranked search")
		fmt.Println("  semantic <query>             vector similarity search")
		fmt.Println("  hybrid <query>               fused semantic+lexical+symbolic")
		fmt.Println("  parent <name> <parent>")
		fmt.Println("  tree <name>                  print subtree")
		fmt.Println("  delete <name>")
		fmt.Println("  flush                        force the incremental indexer to flush")
		fmt.Println("  /exit")
		fmt.Println()
		return nil
	case "/exit", "/quit":
		fmt.Println("Goodbye!")
		os.Exit(0)
	case "create":
		if len(parts) < 3 {
			return fmt.Errorf("usage: create <name> <type> [observation...]")
		}
		e := &kgraph.Entity{Name: parts[1], EntityType: parts[2]}
		if len(parts) > 3 {
			e.Observations = []string{strings.Join(parts[3:], " ")}
		}
		if err := svc.CreateEntity(ctx, e); err != nil {
			return err
		}
		fmt.Printf("✓ created %s\n", e.Name)
	case "relate":
		if len(parts) != 4 {
			return fmt.Errorf("usage: relate <from> <to> <relationType>")
		}
		if err := svc.CreateRelation(ctx, parts[1], parts[2], parts[3]); err != nil {
			return err
		}
		fmt.Printf("✓ related %s -[%s]-> %s\n", parts[1], parts[3], parts[2])
	case "observe":
		if len(parts) < 3 {
			return fmt.Errorf("usage: observe <name> <observation...>")
		}
		if err := svc.AddObservations(ctx, parts[1], []string{strings.Join(parts[2:], " ")}); err != nil {
			return err
		}
		fmt.Println("✓ observation added")
	case "search":
		result, err := svc.Basic(ctx, strings.Join(parts[1:], " "), nil, 0, 0)
		if err != nil {
			return err
		}
		printEntities(result.Entities)
	case "boolean":
		result, err := svc.Boolean(ctx, strings.Join(parts[1:], " "), nil, 0, 0)
		if err != nil {
			return err
		}
		printEntities(result.Entities)
	case "rank":
		result, err := svc.Ranked(ctx, strings.Join(parts[1:], " "), nil, 0)
		if err != nil {
			return err
		}
		printEntities(result.Entities)
	case "semantic":
		scored, err := svc.Semantic(ctx, strings.Join(parts[1:], " "), 0, 10)
		if err != nil {
			return err
		}
		for _, s := range scored {
			fmt.Printf("  %.3f  %s (%s)\n", s.Score, s.Entity.Name, s.Entity.EntityType)
		}
	case "hybrid":
		scored, err := svc.Hybrid(ctx, strings.Join(parts[1:], " "), kgraph.HybridOptions{})
		if err != nil {
			return err
		}
		for _, s := range scored {
			fmt.Printf("  %.3f  %s (%s)\n", s.Score, s.Entity.Name, s.Entity.EntityType)
		}
	case "parent":
		if len(parts) != 3 {
			return fmt.Errorf("usage: parent <name> <parent>")
		}
		if err := svc.SetParent(ctx, parts[1], parts[2]); err != nil {
			return err
		}
		fmt.Println("✓ parent set")
	case "tree":
		if len(parts) != 2 {
			return fmt.Errorf("usage: tree <name>")
		}
		g, err := svc.Graph(ctx)
		if err != nil {
			return err
		}
		subtree, err := kgraph.GetSubtree(g, parts[1])
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", subtree.Root.Name)
		for _, d := range subtree.Descendants {
			fmt.Printf("    %s\n", d.Name)
		}
	case "delete":
		if len(parts) != 2 {
			return fmt.Errorf("usage: delete <name>")
		}
		if err := svc.DeleteEntity(ctx, parts[1]); err != nil {
			return err
		}
		fmt.Printf("✓ deleted %s\n", parts[1])
	case "flush":
		result, err := svc.IndexerHandle().Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ flushed: processed=%d succeeded=%d failed=%d\n", result.Processed, result.Succeeded, result.Failed)
	default:
		return fmt.Errorf("unknown command %q, try /help", cmd)
	}
	return nil
}

func printEntities(entities []*kgraph.Entity) {
	if len(entities) == 0 {
		fmt.Println("  (no matches)")
		return
	}
	for _, e := range entities {
		fmt.Printf("  %s (%s)\n", e.Name, e.EntityType)
	}
}

func printBanner() {
	fmt.Printf(`
╔═════════════════════════════════════════════════════════╗
║        kgraph — embeddable knowledge graph %s        ║
╚═════════════════════════════════════════════════════════╝

`, version)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/tree"
)

// Offline store inspector: opens the database and dumps keys under a
// prefix. Run it against a stopped server only; pebble takes an
// exclusive lock.
func main() {
	var dbPath, prefix string
	var values bool
	flag.StringVar(&dbPath, "db", "", "tree store path")
	flag.StringVar(&prefix, "prefix", "chats/", "key prefix to dump")
	flag.BoolVar(&values, "values", false, "print node values as well")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init()

	store, err := tree.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	nodes, err := store.ScanPrefix(context.Background(), prefix, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan %s: %v\n", prefix, err)
		os.Exit(1)
	}
	for path, raw := range nodes {
		if values {
			fmt.Printf("%s\t%s\n", path, raw)
		} else {
			fmt.Println(path)
		}
	}
	fmt.Fprintf(os.Stderr, "%d nodes under %s\n", len(nodes), prefix)
}

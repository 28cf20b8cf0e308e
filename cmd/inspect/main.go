package main

import (
	"flag"
	"fmt"
	"os"

	"commhub/pkg/logger"
	"commhub/pkg/store"
)

// Operator tool: dump raw store keys (and optionally values) for a
// prefix. Run it against a copy of the database, not the live one;
// pebble holds an exclusive lock.
func main() {
	var (
		dbPath = flag.String("db", "", "path to the pebble database directory")
		prefix = flag.String("prefix", "", "key prefix to scan (e.g. thread:, notif:)")
		values = flag.Bool("values", false, "print values alongside keys")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init("error")

	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	keys, err := store.ListKeys(*prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !*values {
			fmt.Println(k)
			continue
		}
		v, err := store.GetKey(k)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/goatnetwork/note-wallet/internal/config"
	"github.com/goatnetwork/note-wallet/internal/db"
	"github.com/goatnetwork/note-wallet/internal/export"
	"github.com/goatnetwork/note-wallet/internal/state"
)

func main() {
	var (
		mode  = flag.String("mode", "export", "Operation: export, import")
		file  = flag.String("file", "", "Dump file, stdout or stdin when empty")
		dbDir = flag.String("db", "", "Database directory, overrides DB_DIR")
		help  = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		fmt.Println("Usage: walletdump [options]")
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *dbDir != "" {
		os.Setenv("DB_DIR", *dbDir)
	}
	config.InitConfig()
	dbm := db.NewDatabaseManager()
	defer dbm.Close()
	exporter := export.NewExporter(state.InitializeState(dbm))
	ctx := context.Background()

	switch *mode {
	case "export":
		dump, err := exporter.ExportDb(ctx)
		if err != nil {
			log.Fatalf("Failed to export: %v", err)
		}
		if *file == "" {
			fmt.Println(string(dump))
			return
		}
		if err := os.WriteFile(*file, dump, 0600); err != nil {
			log.Fatalf("Failed to write %s: %v", *file, err)
		}
	case "import":
		var (
			dump []byte
			err  error
		)
		if *file == "" {
			dump, err = io.ReadAll(os.Stdin)
		} else {
			dump, err = os.ReadFile(*file)
		}
		if err != nil {
			log.Fatalf("Failed to read dump: %v", err)
		}
		if err := exporter.ImportDb(ctx, dump); err != nil {
			log.Fatalf("Failed to import: %v", err)
		}
		fmt.Println("Import done")
	default:
		log.Fatalf("Invalid mode: %s", *mode)
	}
}

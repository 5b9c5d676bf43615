package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/averyhale/fieldledger/internal/config"
	"github.com/averyhale/fieldledger/modules/governance/domain/ports"
	"github.com/averyhale/fieldledger/modules/governance/infrastructure/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <bootstrap|seed> [args]")
	}

	switch os.Args[1] {
	case "bootstrap":
		bootstrap(os.Args[2:])
	case "seed":
		seed(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func bootstrap(args []string) {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	if err := persistence.Bootstrap(ctx, conn); err != nil {
		fatal(err)
	}
	fmt.Println("governance schema ready")
}

func seed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	var seedPath string
	var modelsPath string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&seedPath, "f", "config/seed.yaml", "seed file")
	fs.StringVar(&modelsPath, "models", "config/models.yaml", "models file")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	reg, err := config.LoadRegistry(modelsPath)
	if err != nil {
		fatal(err)
	}
	sd, err := config.LoadSeed(seedPath)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	storeFor := func(tenantID string) ports.Store {
		return persistence.NewPGStore(conn, tenantID)
	}
	if err := config.Apply(ctx, sd, reg, storeFor); err != nil {
		fatal(err)
	}
	fmt.Printf("seeded %d tenant(s)\n", len(sd.Tenants))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// Command migrate applies or rolls back the Postgres schema migrations
// shipped under migrations/.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("RECONCILER_DATABASE_DSN"), "Postgres connection string")
	dir := flag.String("migrations", "migrations", "path to the migrations directory")
	direction := flag.String("direction", "up", "up|down|drop")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: -dsn or RECONCILER_DATABASE_DSN is required")
		os.Exit(1)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *dir), *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: open failed: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "drop":
		err = m.Drop()
	default:
		fmt.Fprintf(os.Stderr, "migrate: unknown direction %q\n", *direction)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrate: done")
}

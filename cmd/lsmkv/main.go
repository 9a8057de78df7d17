// Command lsmkv is a thin command-line front end over the lsmkv engine,
// exposing put/get/delete/stats/compact the way the teacher's cmd/main.go
// exposed put/get/del, but built on urfave/cli/v3 subcommands instead of
// hand-rolled flag parsing (see SPEC_FULL.md §10.3).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mnoura/lsmkv/engine"
	"github.com/mnoura/lsmkv/internal/lsmlog"
)

func main() {
	app := &cli.Command{
		Name:  "lsmkv",
		Usage: "embedded LSM-tree key/value store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Value: "data",
				Usage: "database directory (WAL + SSTables live here)",
			},
			&cli.IntFlag{
				Name:  "flush-threshold",
				Value: engine.FlushThreshold,
				Usage: "MemTable byte size that triggers a flush (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "sync",
				Value: true,
				Usage: "fsync the WAL after every write",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Value: false,
				Usage: "log subsystem lifecycle events to stderr",
			},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			statsCommand(),
			compactCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openFromRoot(c *cli.Command) (*engine.DB, error) {
	opts := engine.DefaultOptions(c.String("dir"))
	opts.FlushThresholdBytes = int(c.Int("flush-threshold"))
	opts.SyncOnWrite = c.Bool("sync")
	if c.Bool("verbose") {
		logger := lsmlog.New()
		logger.SetOutput(os.Stderr)
		opts.Logger = logger
	}
	return engine.Open(opts)
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "insert or replace a key's value",
		ArgsUsage: "<key> <value>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return cli.Exit("put requires exactly 2 arguments: <key> <value>", 2)
			}
			d, err := openFromRoot(c)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if err := d.Put([]byte(c.Args().Get(0)), []byte(c.Args().Get(1))); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "look up a key's value",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return cli.Exit("get requires exactly 1 argument: <key>", 2)
			}
			d, err := openFromRoot(c)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			v, ok, err := d.Get([]byte(c.Args().Get(0)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(not found)")
				return cli.Exit("", 1)
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"del"},
		Usage:     "mark a key as deleted",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return cli.Exit("delete requires exactly 1 argument: <key>", 2)
			}
			d, err := openFromRoot(c)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if err := d.Delete([]byte(c.Args().Get(0))); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print MemTable size, per-level file counts, and sequence state",
		Action: func(ctx context.Context, c *cli.Command) error {
			d, err := openFromRoot(c)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			st, err := d.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("memtable: %d entries, %d bytes\n", st.MemTableEntries, st.MemTableBytes)
			for level, count := range st.LevelFileCounts {
				if count == 0 {
					continue
				}
				fmt.Printf("L%d: %d files\n", level, count)
			}
			fmt.Printf("sstable bytes on disk: %d\n", st.TotalSSTableBytes)
			fmt.Printf("next sequence: %d\n", st.NextSeq)
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "force a flush and drain of any over-capacity levels",
		Action: func(ctx context.Context, c *cli.Command) error {
			d, err := openFromRoot(c)
			if err != nil {
				return err
			}
			// Close flushes a non-empty MemTable and drains all
			// pending compactions before releasing the database.
			return d.Close()
		},
	}
}

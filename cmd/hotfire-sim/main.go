// Command hotfire-sim runs stand files offline and talks to a live stand.
//
// Usage:
//
//	hotfire-sim validate <stand.yaml>...
//	hotfire-sim list <dir>
//	hotfire-sim run [--db runs.db] [--station bench] [--duration S] <stand.yaml>
//	hotfire-sim report --db runs.db --run ID [--csv] [--out FILE]
//	hotfire-sim send [--redis ADDR] [--station ID] [--index N] <command> [on|off]
//	hotfire-sim estop [--redis ADDR] [--station ID] <reason>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holla2040/hotfire/internal/config"
	"github.com/holla2040/hotfire/internal/ecu"
	"github.com/holla2040/hotfire/internal/protocol"
	"github.com/holla2040/hotfire/internal/report"
	"github.com/holla2040/hotfire/internal/stand"
	"github.com/holla2040/hotfire/internal/store"
	"github.com/holla2040/hotfire/internal/transport"
)

const version = "1.0.0"

var cliSource = protocol.Source{
	Service:  "hotfire_cli",
	Instance: "cli-01",
	Version:  version,
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: hotfire-sim <validate|list|run|report|send|estop> [flags] [args]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "run":
		err = runBatch(ctx, os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "estop":
		err = runEstop(ctx, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runValidate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no stand files given")
	}
	failed := 0
	for _, path := range args {
		st, err := config.Load(path)
		if err != nil {
			fmt.Printf("FAIL %s\n  %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s (%s, %d events)\n", path, st.Name, len(st.Events))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stand files invalid", failed, len(args))
	}
	return nil
}

func runList(args []string) error {
	dir := "configs"
	if len(args) > 0 {
		dir = args[0]
	}
	stands, err := config.LoadAll(dir)
	if err != nil {
		return err
	}
	for _, st := range stands {
		fmt.Printf("%-20s %-28s dt=%gs events=%d\n", st.ID, st.Name, st.PhysicsDtS, len(st.Events))
	}
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database to record the run in (optional)")
	station := fs.String("station", "bench", "station name recorded with the run")
	duration := fs.Float64("duration", 0, "simulated seconds to run (default: last event + 5 s)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one stand file")
	}

	st, err := config.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	opts := stand.BatchOptions{DurationS: *duration, Station: *station}
	if *dbPath != "" {
		db, err := store.New(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Store = db
	}

	start := time.Now()
	res, err := stand.RunBatch(ctx, st, opts)
	if err != nil {
		return err
	}
	log.Printf("run: %s simulated %.3f s in %s", st.Name, res.DurationS, time.Since(start).Round(time.Millisecond))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "hotfire.db", "SQLite database path")
	runID := fs.String("run", "", "run ID (required)")
	asCSV := fs.Bool("csv", false, "write telemetry CSV instead of a PDF report")
	out := fs.String("out", "", "output file (default: <run>.pdf or <run>.csv)")
	fs.Parse(args)
	if *runID == "" {
		return fmt.Errorf("--run is required")
	}

	db, err := store.New(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.GetRun(*runID); err != nil {
		return err
	}

	ext, write := ".pdf", report.GeneratePDF
	if *asCSV {
		ext, write = ".csv", report.ExportCSV
	}
	path := *out
	if path == "" {
		path = *runID + ext
	}

	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := write(w, db, *runID); err != nil {
		return err
	}
	if path != "-" {
		log.Printf("report: wrote %s", path)
	}
	return nil
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	redisAddr := fs.String("redis", "localhost:6379", "Redis address")
	station := fs.String("station", "stand-01", "station ID of the target controller")
	index := fs.Int("index", 0, "controller index on the stand")
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("expected <command> [on|off]; commands: %v", ecu.CommandKinds())
	}

	kind, err := ecu.ParseCommandKind(fs.Arg(0))
	if err != nil {
		return err
	}
	c := ecu.Command{Kind: kind, Index: *index}
	if kind.TakesEnable() {
		switch fs.Arg(1) {
		case "on":
			c.Enable = true
		case "off":
		default:
			return fmt.Errorf("%s needs on or off", kind)
		}
	} else if fs.NArg() == 2 {
		return fmt.Errorf("%s takes no argument", kind)
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to Redis at %s: %w", *redisAddr, err)
	}

	id, err := transport.SendCommand(ctx, rdb, cliSource, *station, c)
	if err != nil {
		return err
	}
	fmt.Printf("Sent %s to %s\n", c, transport.CommandChannel(*station))
	fmt.Printf("  id: %s\n", id)
	return nil
}

func runEstop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("estop", flag.ExitOnError)
	redisAddr := fs.String("redis", "localhost:6379", "Redis address")
	station := fs.String("station", "stand-01", "station ID of the target controller")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected a reason")
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to Redis at %s: %w", *redisAddr, err)
	}

	id, err := transport.SendEstop(ctx, rdb, cliSource, *station, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("E-stop sent to %s\n", transport.EstopChannel(*station))
	fmt.Printf("  id: %s\n", id)
	return nil
}

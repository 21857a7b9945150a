// Command motionlog inspects the motiongen run log and follows a live
// command stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/motiongen/internal/db"
	"github.com/banshee-data/motiongen/internal/fsutil"
	"github.com/banshee-data/motiongen/internal/monitor"
	"github.com/banshee-data/motiongen/internal/publish"
	"github.com/banshee-data/motiongen/internal/security"
	"github.com/banshee-data/motiongen/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatchCommand(ctx, os.Stdout, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "motionlog: %v\n", err)
		os.Exit(1)
	}
}

func dispatchCommand(ctx context.Context, out io.Writer, command string, args []string) error {
	switch command {
	case "runs":
		return handleRuns(ctx, out, args)
	case "export":
		return handleExport(ctx, out, args)
	case "follow":
		return handleFollow(ctx, out, args)
	case "status":
		return handleStatus(ctx, out, args)
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		dbPath := fs.String("db", "motiongen.db", "Run log database")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return db.RunMigrateCommand(out, fs.Args(), *dbPath)
	case "version":
		fmt.Fprintln(out, "motionlog", version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	}
	printUsage(out)
	return fmt.Errorf("unknown command: %s", command)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `motionlog - inspect motiongen runs

Usage: motionlog <command> [options]

Commands:
  runs       List recorded runs, newest first
  export     Plot the commanded base trajectory of a run to PNG
  follow     Print commands from a running node as JSON lines
  status     Show command stream counters of a running node
  migrate    Manage the run log schema (up, down, status, force <v>)
  version    Show version
  help       Show this help message

Examples:
  motionlog runs -db motiongen.db
  motionlog export -db motiongen.db -run latest -phase INIT -out init.png
  motionlog follow -addr localhost:50061 -phases STEADY -every 10 -n 100
`)
}

func handleRuns(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dbPath := fs.String("db", "motiongen.db", "Run log database")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runLog, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer runLog.Close()

	runs, err := runLog.Runs(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	return writeRunsTable(out, runs)
}

func writeRunsTable(out io.Writer, runs []db.Run) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tTICKS\tINITIAL\tEXIT")
	for _, r := range runs {
		duration := "-"
		if r.Finished != nil {
			duration = r.Finished.Sub(r.Started).Round(time.Millisecond).String()
		}
		initial := "-"
		if r.Initial != nil {
			initial = fmt.Sprintf("%.3f,%.3f,%.3f", r.Initial[0], r.Initial[1], r.Initial[2])
		}
		exit := r.ExitReason
		if exit == "" {
			exit = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Started.UTC().Format(time.RFC3339), duration, r.Ticks, initial, exit)
	}
	return tw.Flush()
}

func handleExport(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dbPath := fs.String("db", "motiongen.db", "Run log database")
	runID := fs.String("run", "latest", "Run ID, or latest")
	phase := fs.String("phase", "INIT", "Phase to plot (empty for all)")
	output := fs.String("out", "", "Output .png path (default <run>_<phase>.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runLog, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer runLog.Close()

	run, err := runLog.Run(ctx, *runID)
	if err != nil {
		return err
	}
	points, err := runLog.Trajectory(ctx, run.ID, *phase)
	if err != nil {
		return err
	}

	path := *output
	if path == "" {
		label := *phase
		if label == "" {
			label = "all"
		}
		path = security.SafeName(fmt.Sprintf("%s_%s", run.ID, strings.ToLower(label))) + ".png"
	}
	if err := security.CheckOutputPath(path); err != nil {
		return err
	}

	title := fmt.Sprintf("Run %s", run.ID)
	if *phase != "" {
		title += " " + *phase
	}
	p, err := monitor.TrajectoryPlot(title, samplesFromPoints(points))
	if errors.Is(err, monitor.ErrNoSamples) {
		return fmt.Errorf("run %s has no recorded %s commands", run.ID, *phase)
	}
	if err != nil {
		return err
	}
	if err := monitor.SavePNG(fsutil.OSFileSystem{}, filepath.Clean(path), p); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d points to %s\n", len(points), path)
	return nil
}

func samplesFromPoints(points []db.TrajectoryPoint) []monitor.Sample {
	samples := make([]monitor.Sample, len(points))
	for i, p := range points {
		samples[i] = monitor.Sample{Tick: p.Tick, Elapsed: p.Elapsed, Phase: p.Phase, BasePos: p.BasePos}
	}
	return samples
}

func handleFollow(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:50061", "Command stream address")
	phases := fs.String("phases", "", "Comma-separated phases to receive (empty for all)")
	every := fs.Int("every", 1, "Receive every Nth command")
	limit := fs.Int("n", 0, "Stop after this many commands (0 for no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", *addr, err)
	}
	defer conn.Close()
	return follow(ctx, out, publish.NewCommandStreamClient(conn), splitList(*phases), *every, *limit)
}

func follow(ctx context.Context, out io.Writer, client *publish.CommandStreamClient, phases []string, every, limit int) error {
	req, err := publish.StreamRequest(phases, every)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.StreamCommands(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for n := 0; limit <= 0 || n < limit; n++ {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		cmd, err := publish.CommandFromStruct(msg)
		if err != nil {
			return err
		}
		if err := enc.Encode(cmd); err != nil {
			return err
		}
	}
	return nil
}

func handleStatus(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:50061", "Command stream address")
	timeout := fs.Duration("timeout", 5*time.Second, "RPC timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", *addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	return status(ctx, out, publish.NewCommandStreamClient(conn))
}

func status(ctx context.Context, out io.Writer, client *publish.CommandStreamClient) error {
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st.AsMap())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

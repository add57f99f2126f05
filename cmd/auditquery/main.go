package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/polarfoxDev/ballast/internal/activity"
	"github.com/polarfoxDev/ballast/internal/database"
	"github.com/polarfoxDev/ballast/internal/model"
)

func main() {
	dbPath := flag.String("db", "/var/lib/ballast/ballast.db", "Path to ballast database")
	activityType := flag.String("type", "", "Filter by activity type (e.g., backup_created)")
	status := flag.String("status", "", "Filter by status (success, failed, warning)")
	since := flag.String("since", "", "Filter entries since time (RFC3339 format)")
	until := flag.String("until", "", "Filter entries until time (RFC3339 format)")
	limit := flag.Int("limit", 100, "Maximum number of entries to return")
	csv := flag.Bool("csv", false, "Emit CSV instead of a table")
	prune := flag.String("prune", "", "Prune entries older than duration (e.g., '720h' for 30 days)")

	flag.Parse()

	ctx := context.Background()
	db, err := database.InitDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	log := activity.NewLog(db, zerolog.Nop())
	defer log.Close()

	// Handle pruning if requested
	if *prune != "" {
		duration, err := time.ParseDuration(*prune)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid duration format: %v\n", err)
			os.Exit(1)
		}
		deleted, err := log.Prune(ctx, duration)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning activity log: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pruned %d activity entries older than %v\n", deleted, duration)
		return
	}

	f := database.ActivityFilter{
		Type:   model.ActivityType(*activityType),
		Status: model.ActivityStatus(*status),
		Limit:  *limit,
	}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid since time format: %v\n", err)
			os.Exit(1)
		}
		f.Since = t
	}
	if *until != "" {
		t, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid until time format: %v\n", err)
			os.Exit(1)
		}
		f.Until = t
	}

	if *csv {
		if err := log.Export(ctx, f, activity.CSVRenderer{}, os.Stdout, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting activity log: %v\n", err)
			os.Exit(1)
		}
		return
	}

	res, err := log.Query(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying activity log: %v\n", err)
		os.Exit(1)
	}
	if len(res.Entries) == 0 {
		fmt.Println("No activity found matching criteria")
		return
	}

	// Print results in a table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tTYPE\tSTATUS\tACTOR\tBACKUP\tDETAILS")
	fmt.Fprintln(w, "─────────\t────\t──────\t─────\t──────\t───────")

	for _, e := range res.Entries {
		ts := e.CreatedAt.Format("2006-01-02 15:04:05")
		backup := e.BackupName
		if backup == "" {
			backup = "-"
		}
		details := e.Details
		if len(details) > 60 {
			details = details[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ts, e.Type, e.Status, e.ActorName, backup, details)
	}

	w.Flush()
	fmt.Printf("\nShowing %d of %d results\n", len(res.Entries), res.Total)
}

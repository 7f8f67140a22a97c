// Command tiation is a thin CLI over the Tiation Go SDK, mainly for
// poking at an account and receiving webhooks during development.
// Configuration comes from tiation.yaml and TIATION_* environment
// variables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tiation/sdk-go/pkg/analytics"
	"github.com/tiation/sdk-go/pkg/automation"
	"github.com/tiation/sdk-go/pkg/batch"
	"github.com/tiation/sdk-go/pkg/cms"
	"github.com/tiation/sdk-go/pkg/realtime"
	"github.com/tiation/sdk-go/pkg/tiation"
	"github.com/tiation/sdk-go/pkg/webhooks"
)

const usage = `usage: tiation <command> [flags]

commands:
  track        send an analytics event
  query        run an analytics query
  workflows    list workflows
  run          trigger a workflow and optionally wait for it
  content      list or fetch content entries
  endpoints    list webhook endpoints
  listen       run a local webhook receiver
  subscribe    stream realtime events from a channel
  batch        execute operations from a JSON file
  version      print the SDK version
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	if args[0] == "version" {
		fmt.Println(tiation.Version)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := tiation.NewFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tiation:", err)
		return 1
	}
	defer client.Close()

	var cmdErr error
	switch args[0] {
	case "track":
		cmdErr = cmdTrack(ctx, client, args[1:])
	case "query":
		cmdErr = cmdQuery(ctx, client, args[1:])
	case "workflows":
		cmdErr = cmdWorkflows(ctx, client, args[1:])
	case "run":
		cmdErr = cmdRun(ctx, client, args[1:])
	case "content":
		cmdErr = cmdContent(ctx, client, args[1:])
	case "endpoints":
		cmdErr = cmdEndpoints(ctx, client, args[1:])
	case "listen":
		cmdErr = cmdListen(ctx, args[1:])
	case "subscribe":
		cmdErr = cmdSubscribe(ctx, client, args[1:])
	case "batch":
		cmdErr = cmdBatch(ctx, client, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "tiation: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "tiation:", cmdErr)
		return 1
	}
	return 0
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdTrack(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	name := fs.String("name", "", "event name (required)")
	user := fs.String("user", "", "user ID")
	channel := fs.String("channel", "", "channel")
	props := fs.String("props", "", "event properties as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	event := analytics.Event{Name: *name, UserID: *user, Channel: *channel}
	if *props != "" {
		if err := json.Unmarshal([]byte(*props), &event.Properties); err != nil {
			return fmt.Errorf("parsing -props: %w", err)
		}
	}
	return client.Analytics().Track(ctx, event)
}

func cmdQuery(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	metric := fs.String("metric", "count", "metric to aggregate")
	event := fs.String("event", "", "event name filter")
	interval := fs.String("interval", "day", "bucket interval")
	since := fs.Duration("since", 7*24*time.Hour, "how far back to query")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := client.Analytics().Query(ctx, analytics.Query{
		Metric:   *metric,
		Event:    *event,
		Interval: *interval,
		From:     time.Now().Add(-*since),
		To:       time.Now(),
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdWorkflows(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("workflows", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := client.Automation().ListWorkflows(ctx, tiation.ListOptions{Limit: *limit})
	if err != nil {
		return err
	}
	return printJSON(page)
}

func cmdRun(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	input := fs.String("input", "", "run input as JSON")
	wait := fs.Bool("wait", false, "poll until the run finishes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tiation run [flags] <workflow-id>")
	}

	var in map[string]any
	if *input != "" {
		if err := json.Unmarshal([]byte(*input), &in); err != nil {
			return fmt.Errorf("parsing -input: %w", err)
		}
	}

	run, err := client.Automation().Trigger(ctx, fs.Arg(0), in)
	if err != nil {
		return err
	}
	if *wait {
		run, err = client.Automation().WaitForRun(ctx, run.ID, automation.WaitOptions{})
		if err != nil {
			return err
		}
	}
	return printJSON(run)
}

func cmdContent(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("content", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (draft, published, archived)")
	limit := fs.Int("limit", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch fs.NArg() {
	case 1:
		page, err := client.CMS().ListEntries(ctx, fs.Arg(0), cms.ListEntriesOptions{
			ListOptions: tiation.ListOptions{Limit: *limit},
			Status:      cms.EntryStatus(*status),
		})
		if err != nil {
			return err
		}
		return printJSON(page)
	case 2:
		entry, err := client.CMS().GetEntry(ctx, fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		return printJSON(entry)
	default:
		return fmt.Errorf("usage: tiation content [flags] <collection> [entry-id]")
	}
}

func cmdEndpoints(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("endpoints", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := client.Webhooks().ListEndpoints(ctx, tiation.ListOptions{Limit: *limit})
	if err != nil {
		return err
	}
	return printJSON(page)
}

func cmdListen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	addr := fs.String("addr", ":8787", "listen address")
	path := fs.String("path", "/webhooks/tiation", "receiver path")
	secret := fs.String("secret", os.Getenv("TIATION_WEBHOOK_SECRET"), "signing secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	receiver, err := webhooks.NewReceiver([]byte(*secret), webhooks.ReceiverOptions{})
	if err != nil {
		return err
	}
	receiver.On("*", func(ctx context.Context, event webhooks.Event) error {
		return printJSON(event)
	})

	fmt.Fprintf(os.Stderr, "listening on %s%s\n", *addr, *path)
	return receiver.ListenAndServe(ctx, *addr, *path)
}

func cmdSubscribe(ctx context.Context, client *tiation.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tiation subscribe <channel> [channel...]")
	}

	for _, channel := range args {
		sub, err := client.Subscribe(ctx, channel, func(event realtime.Event) {
			_ = printJSON(event)
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}

	<-ctx.Done()
	return nil
}

func cmdBatch(ctx context.Context, client *tiation.Client, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	file := fs.String("file", "", "JSON file with an array of operations (required)")
	chunk := fs.Int("chunk", batch.MaxOperations, "operations per request")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("usage: tiation batch -file ops.json")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var ops []batch.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return fmt.Errorf("parsing %s: %w", *file, err)
	}

	result, err := client.Batch().ExecuteAll(ctx, ops, batch.ExecuteAllOptions{ChunkSize: *chunk})
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if failed := result.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d operations failed", len(failed), len(result.Results))
	}
	return nil
}

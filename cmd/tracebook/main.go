package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/draftforge/tracebook/internal/config"
	"github.com/draftforge/tracebook/internal/observability"
	"github.com/draftforge/tracebook/internal/pricing"
	"github.com/draftforge/tracebook/internal/prompts"
	"github.com/draftforge/tracebook/internal/query"
	"github.com/draftforge/tracebook/internal/trace"
	"github.com/draftforge/tracebook/internal/version"
)

const defaultConfigPath = "tracebook.yaml"

const otelShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	case "traces":
		return runTraces(args[1:], os.Stdout, os.Stderr)
	case "show":
		return runShow(args[1:], os.Stdout, os.Stderr)
	case "tree":
		return runTree(args[1:], os.Stdout, os.Stderr)
	case "search":
		return runSearch(args[1:], os.Stdout, os.Stderr)
	case "report":
		return runReport(args[1:], os.Stdout, os.Stderr)
	case "prompts":
		return runPrompts(args[1:], os.Stdout, os.Stderr)
	case "pricing":
		return runPricing(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(errOut io.Writer) {
	fmt.Fprintln(errOut, `usage: tracebook <command> [flags]

commands:
  traces     list recent traces
  show       show one trace with its events
  tree       show the event tree rooted at an event
  search     full-text search over event input/output
  report     cost summary with optional groupings
  prompts    inspect and register prompt versions
  pricing    read or override model pricing
  config     validate configuration
  version    print build version

Run "tracebook <command> -h" for command flags.`)
}

// cliEnv bundles everything a subcommand needs once configuration is
// loaded and storage is open.
type cliEnv struct {
	cfg    config.Config
	store  trace.Store
	logger *slog.Logger
	otel   *observability.Runtime
}

func openEnv(ctx context.Context, configPath string) (*cliEnv, func(), error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging, os.Stderr)

	otelRuntime, err := observability.Setup(ctx, cfg.Observability.OTel, version.Version, logger)
	if err != nil {
		return nil, nil, err
	}

	var store trace.Store
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		store, err = trace.NewSQLiteStore(cfg.Storage.Path)
	case config.DriverPostgres:
		store, err = trace.NewPostgresStore(cfg.Storage.DSN)
	default:
		err = fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		_ = otelRuntime.Shutdown(shutdownCtx)
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}

	env := &cliEnv{cfg: cfg, store: store, logger: logger, otel: otelRuntime}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := otelRuntime.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down opentelemetry", "error", err)
		}
	}
	return env, cleanup, nil
}

func runConfig(args []string, out, errOut io.Writer) int {
	if len(args) == 0 || args[0] != "validate" {
		fmt.Fprintln(errOut, "usage: tracebook config validate [--config path]")
		return 2
	}

	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(context.Background(), *configPath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(errOut, "invalid config: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "config ok")
	return 0
}

func runTraces(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("traces", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	limit := flagSet.Int("limit", 20, "Maximum traces to list")
	userID := flagSet.String("user", "", "Filter by user id")
	tenantID := flagSet.String("tenant", "", "Filter by tenant id")
	nameContains := flagSet.String("name", "", "Filter by substring of trace name")
	since := flagSet.String("since", "", "Only traces created after this RFC3339 time")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	filter := trace.TraceFilter{
		Limit:        *limit,
		UserID:       *userID,
		TenantID:     *tenantID,
		NameContains: *nameContains,
	}
	if *since != "" {
		parsed, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --since value: %v\n", err)
			return 2
		}
		filter.CreatedAfter = parsed
	}

	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	traces, err := query.NewEngine(env.store).ListTraces(ctx, filter)
	if err != nil {
		fmt.Fprintf(errOut, "list traces: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tNAME\tUSER\tTENANT\tCOST")
	for _, tr := range traces {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tr.CreatedAt.Format(time.RFC3339), tr.ID, tr.Name, tr.UserID, tr.TenantID, formatFloatPtr(tr.CostTotal))
	}
	tw.Flush()
	return 0
}

func runShow(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("show", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook show <trace-id>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	result, err := query.NewEngine(env.store).TraceWithEvents(ctx, flagSet.Arg(0))
	if errors.Is(err, trace.ErrNotFound) {
		fmt.Fprintf(errOut, "trace %q not found\n", flagSet.Arg(0))
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "show trace: %v\n", err)
		return 1
	}

	tr := result.Trace
	fmt.Fprintf(out, "trace %s  %s\n", tr.ID, tr.Name)
	fmt.Fprintf(out, "created %s", tr.CreatedAt.Format(time.RFC3339))
	if tr.UserID != "" {
		fmt.Fprintf(out, "  user %s", tr.UserID)
	}
	if tr.TenantID != "" {
		fmt.Fprintf(out, "  tenant %s", tr.TenantID)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tTYPE\tNAME\tMODEL\tTOKENS\tCOST\tERROR")
	for _, ev := range result.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.ID, ev.Type, ev.Name, ev.Model,
			formatInt64Ptr(ev.TokensTotal), formatFloatPtr(ev.CostTotal), ev.Error)
	}
	tw.Flush()
	return 0
}

func runTree(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("tree", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook tree <event-id>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	node, err := query.NewEngine(env.store).EventTree(ctx, flagSet.Arg(0))
	if errors.Is(err, trace.ErrNotFound) {
		fmt.Fprintf(errOut, "event %q not found\n", flagSet.Arg(0))
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "resolve event tree: %v\n", err)
		return 1
	}

	printEventNode(out, node, 0)
	return 0
}

func printEventNode(out io.Writer, node *query.EventNode, depth int) {
	ev := node.Event
	line := fmt.Sprintf("%s[%s] %s", strings.Repeat("  ", depth), ev.Type, ev.Name)
	if ev.Model != "" {
		line += "  model=" + ev.Model
	}
	if ev.CostTotal != nil {
		line += fmt.Sprintf("  cost=%.6f", *ev.CostTotal)
	}
	if ev.Error != "" {
		line += "  error=" + ev.Error
	}
	fmt.Fprintf(out, "%s  (%s)\n", line, ev.ID)
	for _, child := range node.Children {
		printEventNode(out, child, depth+1)
	}
}

func runSearch(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("search", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	limit := flagSet.Int("limit", 20, "Maximum events to return")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, `usage: tracebook search "<query>"`)
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	events, err := query.NewEngine(env.store).SearchEvents(ctx, flagSet.Arg(0), *limit)
	if err != nil {
		fmt.Fprintf(errOut, "search events: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTRACE\tID\tTYPE\tNAME")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.TraceID, ev.ID, ev.Type, ev.Name)
	}
	tw.Flush()
	return 0
}

func runReport(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	traceID := flagSet.String("trace", "", "Filter by trace id")
	userID := flagSet.String("user", "", "Filter by user id")
	tenantID := flagSet.String("tenant", "", "Filter by tenant id")
	model := flagSet.String("model", "", "Filter by model")
	eventType := flagSet.String("type", "", "Filter by event type")
	from := flagSet.String("from", "", "Only events at or after this RFC3339 time")
	to := flagSet.String("to", "", "Only events at or before this RFC3339 time")
	groupBy := flagSet.String("group-by", "", "Comma-separated groupings: day, model, tenant, user")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	filter := trace.CostFilter{
		TraceID:  *traceID,
		UserID:   *userID,
		TenantID: *tenantID,
		Model:    *model,
		Type:     *eventType,
	}
	if *from != "" {
		parsed, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --from value: %v\n", err)
			return 2
		}
		filter.From = parsed
	}
	if *to != "" {
		parsed, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --to value: %v\n", err)
			return 2
		}
		filter.To = parsed
	}

	var groupings []string
	for _, g := range strings.Split(*groupBy, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groupings = append(groupings, g)
		}
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	report, err := query.NewEngine(env.store).CostReport(ctx, filter, groupings...)
	if err != nil {
		fmt.Fprintf(errOut, "cost report: %v\n", err)
		return 1
	}

	s := report.Summary
	fmt.Fprintf(out, "events        %d\n", s.TotalEvents)
	fmt.Fprintf(out, "tokens in     %d\n", s.TotalTokensInput)
	fmt.Fprintf(out, "tokens out    %d\n", s.TotalTokensOutput)
	fmt.Fprintf(out, "tokens total  %d\n", s.TotalTokens)
	fmt.Fprintf(out, "cost total    %.6f\n", s.TotalCost)
	fmt.Fprintf(out, "avg cost      %.6f\n", s.AvgCostPerEvent)
	fmt.Fprintf(out, "avg duration  %.1fms\n", s.AvgDurationMS)

	for _, grouping := range groupings {
		buckets, ok := report.Aggregations[grouping]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "\nby %s:\n", grouping)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tEVENTS\tTOKENS\tCOST")
		for _, bucket := range buckets {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.6f\n", bucket.Key, bucket.EventCount, bucket.TotalTokens, bucket.TotalCost)
		}
		tw.Flush()
	}
	return 0
}

func runPrompts(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: tracebook prompts <list|register|usage|compare|quality> [flags]")
		return 2
	}

	switch args[0] {
	case "list":
		return runPromptsList(args[1:], out, errOut)
	case "register":
		return runPromptsRegister(args[1:], out, errOut)
	case "usage":
		return runPromptsUsage(args[1:], out, errOut)
	case "compare":
		return runPromptsCompare(args[1:], out, errOut)
	case "quality":
		return runPromptsQuality(args[1:], out, errOut)
	default:
		fmt.Fprintln(errOut, "usage: tracebook prompts <list|register|usage|compare|quality> [flags]")
		return 2
	}
}

func runPromptsList(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("prompts list", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook prompts list <prompt-key>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	versions, err := prompts.NewRegistry(env.store).ListVersions(ctx, flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "list prompt versions: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tID\tCREATED\tDESCRIPTION")
	for _, v := range versions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Version, v.ID, v.CreatedAt.Format(time.RFC3339), v.Description)
	}
	tw.Flush()
	return 0
}

func runPromptsRegister(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("prompts register", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	templateFile := flagSet.String("file", "", "Read template text from file")
	template := flagSet.String("template", "", "Template text")
	description := flagSet.String("description", "", "Version description")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook prompts register <prompt-key> --template <text> | --file <path>")
		return 2
	}

	text := *template
	if *templateFile != "" {
		raw, err := os.ReadFile(*templateFile)
		if err != nil {
			fmt.Fprintf(errOut, "read template file: %v\n", err)
			return 1
		}
		text = string(raw)
	}
	if text == "" {
		fmt.Fprintln(errOut, "one of --template or --file is required")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	v, err := prompts.NewRegistry(env.store).Register(ctx, flagSet.Arg(0), text, *description, "")
	if err != nil {
		fmt.Fprintf(errOut, "register prompt: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "%s %s %s\n", v.PromptKey, v.Version, v.ID)
	return 0
}

func runPromptsUsage(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("prompts usage", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook prompts usage <prompt-key>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	usage, err := query.NewEngine(env.store).PromptUsage(ctx, flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "prompt usage: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tEVENTS\tCOST\tLAST USED")
	for _, row := range usage {
		lastUsed := "-"
		if row.LastUsedAt != nil {
			lastUsed = row.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%.6f\t%s\n", row.Version, row.EventCount, row.TotalCost, lastUsed)
	}
	tw.Flush()
	return 0
}

func runPromptsCompare(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("prompts compare", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook prompts compare <prompt-key>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	stats, err := query.NewEngine(env.store).ComparePromptVersions(ctx, flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "compare prompt versions: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tEVENTS\tTOKENS IN\tTOKENS OUT\tCOST\tAVG COST\tAVG MS\tAVG QUALITY")
	for _, row := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6f\t%.6f\t%.1f\t%s\n",
			row.Version, row.EventCount, row.TokensInput, row.TokensOutput,
			row.TotalCost, row.AvgCost, row.AvgDurationMS, formatFloatPtr(row.AvgQuality))
	}
	tw.Flush()
	return 0
}

func runPromptsQuality(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("prompts quality", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	promptID := flagSet.String("id", "", "Prompt version id")
	promptKey := flagSet.String("key", "", "Prompt key (all versions)")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if (*promptID == "") == (*promptKey == "") {
		fmt.Fprintln(errOut, "usage: tracebook prompts quality --id <prompt-id> | --key <prompt-key>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	stats, err := query.NewEngine(env.store).PromptQualityStats(ctx, *promptID, *promptKey)
	if err != nil {
		fmt.Fprintf(errOut, "prompt quality stats: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "scored events  %d\n", stats.ScoredEvents)
	fmt.Fprintf(out, "avg quality    %s\n", formatFloatPtr(stats.AvgQuality))
	fmt.Fprintf(out, "min quality    %s\n", formatFloatPtr(stats.MinQuality))
	fmt.Fprintf(out, "max quality    %s\n", formatFloatPtr(stats.MaxQuality))
	fmt.Fprintf(out, "high (>=%.1f)   %d\n", trace.HighQualityThreshold, stats.HighCount)
	fmt.Fprintf(out, "low  (<%.1f)    %d\n", trace.LowQualityThreshold, stats.LowCount)
	return 0
}

func runPricing(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: tracebook pricing <get|set> [flags]")
		return 2
	}

	switch args[0] {
	case "get":
		return runPricingGet(args[1:], out, errOut)
	case "set":
		return runPricingSet(args[1:], out, errOut)
	default:
		fmt.Fprintln(errOut, "usage: tracebook pricing <get|set> [flags]")
		return 2
	}
}

func runPricingGet(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("pricing get", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: tracebook pricing get <model>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	entry, err := pricing.NewCalculator(env.store).Lookup(ctx, flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "look up pricing: %v\n", err)
		return 1
	}
	if entry == nil {
		fmt.Fprintf(errOut, "no pricing known for model %q\n", flagSet.Arg(0))
		return 1
	}
	fmt.Fprintf(out, "%s  input %.6f/1k  output %.6f/1k\n", entry.Model, entry.InputPricePer1K, entry.OutputPricePer1K)
	return 0
}

func runPricingSet(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("pricing set", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	input := flagSet.Float64("input", -1, "Input price per 1k tokens")
	output := flagSet.Float64("output", -1, "Output price per 1k tokens")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 || *input < 0 || *output < 0 {
		fmt.Fprintln(errOut, "usage: tracebook pricing set <model> --input <price> --output <price>")
		return 2
	}

	ctx := context.Background()
	env, cleanup, err := openEnv(ctx, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer cleanup()

	if err := pricing.NewCalculator(env.store).Update(ctx, flagSet.Arg(0), *input, *output); err != nil {
		fmt.Fprintf(errOut, "update pricing: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "pricing for %s updated\n", flagSet.Arg(0))
	return 0
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.6f", *v)
}

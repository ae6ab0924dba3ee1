// Command constitution-core is a thin demonstration CLI over
// pkg/core.CoreHandle: it opens a core against a config file and runs
// one operation, the way an embedder would call the package directly.
// It is not a server — the Constitution Rule Store and Validation Core
// has no network API (spec.md §1 Non-goals).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/core"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	if args[0] == "version" {
		fmt.Println(version)
		return nil
	}

	fs := flag.NewFlagSet("constitution-core", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	ctx := context.Background()
	h, err := core.Open(ctx, core.Options{ConfigPath: *configPath, ServiceName: "constitution-core-cli"})
	if err != nil {
		return fmt.Errorf("open core: %w", err)
	}
	defer h.Close(ctx)

	switch args[0] {
	case "list-rules":
		return runListRules(ctx, h)
	case "enable":
		return runEnable(ctx, h, fs.Args())
	case "disable":
		return runDisable(ctx, h, fs.Args())
	case "stats":
		return runStats(ctx, h)
	case "validate":
		return runValidate(ctx, h, fs.Args())
	case "sync-now":
		return runSyncNow(ctx, h)
	default:
		return usageError()
	}
}

func usageError() error {
	return errors.New("usage: constitution-core <list-rules|enable|disable|stats|validate|sync-now|version> [--config path] [args]")
}

func runListRules(ctx context.Context, h *core.CoreHandle) error {
	records, err := h.ListRules(ctx, store.Filter{})
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%s\tenabled=%v\n", r.Rule.RuleID, r.Rule.Severity, r.Rule.Title, r.State.Enabled)
	}
	return nil
}

func runEnable(ctx context.Context, h *core.CoreHandle, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: enable <rule_id>")
	}
	_, err := h.Enable(ctx, args[0])
	return err
}

func runDisable(ctx context.Context, h *core.CoreHandle, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: disable <rule_id> [reason]")
	}
	reason := ""
	if len(args) > 1 {
		reason = args[1]
	}
	_, err := h.Disable(ctx, args[0], reason)
	return err
}

func runStats(ctx context.Context, h *core.CoreHandle) error {
	stats, err := h.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total=%d enabled=%d disabled=%d\n", stats.Total, stats.Enabled, stats.Disabled)
	return nil
}

func runValidate(ctx context.Context, h *core.CoreHandle, paths []string) error {
	if len(paths) == 0 {
		return errors.New("usage: validate <file> [file...]")
	}
	result, err := h.Validate(ctx, afero.NewOsFs(), core.ValidationRequest{Paths: paths})
	if err != nil {
		return err
	}
	for _, f := range result.Findings {
		fmt.Printf("%s:%d:%d: [%s] %s (%s)\n", f.FilePath, f.Line, f.Column, f.Severity, f.Message, f.RuleID)
	}
	fmt.Printf("%d findings across %d files, backend=%s degraded=%v\n", result.FindingCount, result.FileCount, result.BackendUsed, result.Degraded)
	return nil
}

func runSyncNow(ctx context.Context, h *core.CoreHandle) error {
	report, err := h.SyncNow(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("applied=%d conflicts=%d converged=%v\n", report.Applied, report.Conflicts, report.Converged)
	return nil
}

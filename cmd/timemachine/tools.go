package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/timemachine/internal/metrics"
	"github.com/nainya/timemachine/internal/server"
	"github.com/nainya/timemachine/pkg/hooks"
	"github.com/nainya/timemachine/pkg/page"
	"github.com/nainya/timemachine/pkg/target"
	"github.com/nainya/timemachine/pkg/view"
)

var (
	namespace    int
	newNamespace int
	at           string
	parentID     int64
	title        string

	resolveCmd = &cobra.Command{
		Use:   "resolve TITLE DATE",
		Short: "Show how a title resolves on a date (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE:  runResolve,
	}

	renameCmd = &cobra.Command{
		Use:   "rename PAGE_ID OLD_TITLE NEW_TITLE",
		Short: "Record a completed page move",
		Args:  cobra.ExactArgs(3),
		RunE:  runRename,
	}

	revisionCmd = &cobra.Command{
		Use:   "revision PAGE_ID REVISION_ID",
		Short: "Record a page revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runRevision,
	}
)

func init() {
	resolveCmd.Flags().IntVarP(&namespace, "namespace", "n", page.NamespaceMain, "namespace of the title")

	renameCmd.Flags().IntVarP(&namespace, "namespace", "n", page.NamespaceMain, "namespace of the old title")
	renameCmd.Flags().IntVar(&newNamespace, "new-namespace", page.NamespaceMain, "namespace of the new title")
	renameCmd.Flags().StringVar(&at, "at", "", "RFC 3339 time of the move (default now)")

	revisionCmd.Flags().IntVarP(&namespace, "namespace", "n", page.NamespaceMain, "namespace of the page")
	revisionCmd.Flags().StringVar(&title, "title", "", "current title, registers the page when set")
	revisionCmd.Flags().Int64Var(&parentID, "parent", 0, "parent revision id")
	revisionCmd.Flags().StringVar(&at, "at", "", "RFC 3339 time of the revision (default now)")
}

func openApp(cmd *cobra.Command) (*server.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg, true).WithFields(map[string]interface{}{
		"command": cmd.Name(),
		"backend": cfg.Backend,
	})
	return server.NewApp(cfg, log, metrics.NewMetrics(prometheus.NewRegistry()), nil)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at %q is not RFC 3339", value)
	}
	return t.UTC(), nil
}

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q is not a positive integer", name, value)
	}
	return id, nil
}

type resolution struct {
	Title        string `yaml:"title"`
	Date         string `yaml:"date"`
	State        string `yaml:"state"`
	RevisionID   int64  `yaml:"revision_id,omitempty"`
	Rendered     string `yaml:"rendered"`
	ServedByMove bool   `yaml:"served_by_move"`
	TitleThen    string `yaml:"title_then,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	day, ok := target.ParseDate(args[1])
	if !ok {
		return fmt.Errorf("date %q is not YYYY-MM-DD", args[1])
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := target.WithTarget(cmd.Context(), target.New(day, true))
	id := page.NewIdentity(namespace, args[0])

	d, err := app.Interceptor.Decide(ctx, view.Request{Identity: id})
	if err != nil {
		return err
	}
	out := resolution{
		Title:        id.String(),
		Date:         day.Format(target.DateLayout),
		State:        d.State.String(),
		RevisionID:   d.RevisionID,
		Rendered:     d.Identity.String(),
		ServedByMove: d.ServedByMove,
	}
	if then, found, err := app.Resolver.IdentityAt(ctx, d.Identity, day); err != nil {
		return err
	} else if found {
		out.TitleThen = then.String()
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(out)
}

func runRename(cmd *cobra.Command, args []string) error {
	pageID, err := parseID("page id", args[0])
	if err != nil {
		return err
	}
	ts, err := parseTime(at)
	if err != nil {
		return err
	}
	ev := &hooks.PageMoveComplete{
		PageID:    pageID,
		Old:       page.NewIdentity(namespace, args[1]),
		New:       page.NewIdentity(newNamespace, args[2]),
		Timestamp: ts,
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Bus.Dispatch(cmd.Context(), ev)
}

func runRevision(cmd *cobra.Command, args []string) error {
	pageID, err := parseID("page id", args[0])
	if err != nil {
		return err
	}
	revID, err := parseID("revision id", args[1])
	if err != nil {
		return err
	}
	ts, err := parseTime(at)
	if err != nil {
		return err
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	if title != "" {
		if err := app.Backend.Directory.Put(ctx, page.NewIdentity(namespace, title).WithPageID(pageID)); err != nil {
			return err
		}
	}
	return app.Backend.AddRevision(ctx, pageID, revID, parentID, ts)
}

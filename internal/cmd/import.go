package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/MeKo-Tech/osem/assets"
	"github.com/MeKo-Tech/osem/internal/store"
	"github.com/MeKo-Tech/osem/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import seed data into the fixture database",
	Long: `Import organizations (JSON rows), land polygons (GeoJSON) and named
reference layers (GeoJSON) into the fixture database. Files are imported in
parallel; --demo imports the embedded demo data set.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("organizations", "", "JSON file with organization rows")
	importCmd.Flags().StringSlice("polygons", nil, "GeoJSON files with land polygons (repeatable)")
	importCmd.Flags().StringSlice("layer", nil, "Reference layer as name=path.geojson (repeatable)")
	importCmd.Flags().Bool("demo", false, "Import the embedded demo data set")
	importCmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	importCmd.Flags().Bool("progress", true, "Show progress bar")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"import.organizations", "organizations"},
		{"import.polygons", "polygons"},
		{"import.layers", "layer"},
		{"import.demo", "demo"},
		{"import.workers", "workers"},
		{"import.progress", "progress"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, importCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	dbPath := viper.GetString("db")
	workers := viper.GetInt("import.workers")
	showProgress := viper.GetBool("import.progress")

	var (
		fsys  fs.FS
		tasks []worker.Task
		err   error
	)
	if viper.GetBool("import.demo") {
		fsys, tasks, err = demoTasks()
	} else {
		fsys = os.DirFS("/")
		tasks, err = fileTasks(
			viper.GetString("import.organizations"),
			viper.GetStringSlice("import.polygons"),
			viper.GetStringSlice("import.layers"),
		)
	}
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("nothing to import: use --demo, --organizations, --polygons or --layer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}

	summary, importErr := importTasks(ctx, st, fsys, tasks, workers, showProgress)
	if err := st.Close(); err != nil && importErr == nil {
		importErr = err
	}
	if importErr != nil {
		return importErr
	}

	logger.Info("Import complete", "db", dbPath, "summary", summary)
	return nil
}

// importTasks runs tasks against st through the worker pool and records the
// import time in the store metadata.
func importTasks(ctx context.Context, st *store.Store, fsys fs.FS, tasks []worker.Task, workers int, showProgress bool) (string, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger.Info("Starting import", "files", len(tasks), "workers", workers, "db", st.Path())

	progress := worker.NewProgress(len(tasks), showProgress)
	pool := worker.New(worker.Config{
		Workers:    workers,
		Importer:   store.Seeder{Store: st, FS: fsys, Logger: logger},
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, tasks)
	progress.Done()

	var failed []string
	for _, r := range results {
		if r.Err != nil {
			logger.Error("Import failed", "path", r.Task.Path, "kind", string(r.Task.Kind), "error", r.Err)
			failed = append(failed, r.Task.Path)
		}
	}

	if err := st.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush polygons: %w", err)
	}
	if err := st.SetMetadata(ctx, "imported_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}

	if len(failed) > 0 {
		return progress.Summary(), fmt.Errorf("%d of %d files failed to import: %s", len(failed), len(tasks), strings.Join(failed, ", "))
	}
	if len(results) < len(tasks) {
		return progress.Summary(), fmt.Errorf("import interrupted after %d of %d files", len(results), len(tasks))
	}
	return progress.Summary(), nil
}

// demoTasks returns the embedded demo data set and its import tasks.
func demoTasks() (fs.FS, []worker.Task, error) {
	fsys, err := fs.Sub(assets.DemoFS, "demo")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open demo data: %w", err)
	}

	tasks := []worker.Task{
		{Kind: worker.KindOrganizations, Path: "organizations.json"},
		{Kind: worker.KindPolygons, Path: "polygons.geojson"},
	}
	layers, err := fs.Glob(fsys, "layers/*.geojson")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list demo layers: %w", err)
	}
	for _, p := range layers {
		tasks = append(tasks, worker.Task{
			Kind: worker.KindLayer,
			Path: p,
			Name: strings.TrimSuffix(path.Base(p), path.Ext(p)),
		})
	}
	return fsys, tasks, nil
}

// fileTasks builds tasks for files on disk. Paths are made absolute and
// expressed relative to the file system root for os.DirFS("/").
func fileTasks(organizations string, polygons, layers []string) ([]worker.Task, error) {
	var tasks []worker.Task

	add := func(kind worker.Kind, p, name string) error {
		rel, err := rootRelative(p)
		if err != nil {
			return err
		}
		tasks = append(tasks, worker.Task{Kind: kind, Path: rel, Name: name})
		return nil
	}

	if organizations != "" {
		if err := add(worker.KindOrganizations, organizations, ""); err != nil {
			return nil, err
		}
	}
	for _, p := range polygons {
		if err := add(worker.KindPolygons, p, ""); err != nil {
			return nil, err
		}
	}
	for _, spec := range layers {
		name, p, err := parseLayerSpec(spec)
		if err != nil {
			return nil, err
		}
		if err := add(worker.KindLayer, p, name); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// parseLayerSpec splits "name=path". A bare path uses the file name as layer name.
func parseLayerSpec(spec string) (name, p string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("empty layer spec")
	}
	if before, after, ok := strings.Cut(spec, "="); ok {
		name, p = strings.TrimSpace(before), strings.TrimSpace(after)
	} else {
		p = spec
		base := filepath.Base(p)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if name == "" || p == "" {
		return "", "", fmt.Errorf("invalid layer spec %q: expected name=path", spec)
	}
	return name, p, nil
}

func rootRelative(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return strings.TrimPrefix(filepath.ToSlash(abs), "/"), nil
}

// Command mapping-import loads model mappings from a JSON array into Neo4j,
// optionally seeding reference data first and asking running API instances
// to refresh their mapping cache afterwards.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sssolid/crown-nexus/engine/fitment"
	"github.com/sssolid/crown-nexus/engine/graph"
	"github.com/sssolid/crown-nexus/engine/mapping"
	"github.com/sssolid/crown-nexus/pkg/natsutil"
	"github.com/sssolid/crown-nexus/pkg/repo"
)

type options struct {
	file      string
	reference string
	timeout   time.Duration
}

type importer interface {
	BulkImport(ctx context.Context, data []byte) (mapping.ImportResult, error)
}

type referenceStore interface {
	SeedReference(ctx context.Context, fx graph.ReferenceFixture) error
	Stats(ctx context.Context) (graph.ReferenceStats, error)
}

// refreshFunc asks the running services to reload their mappings.
type refreshFunc func(ctx context.Context) (mapping.RefreshStats, error)

func main() {
	var (
		file      = flag.String("file", "", "mapping JSON array to import (- for stdin)")
		reference = flag.String("reference", "", "optional reference fixture JSON to seed first")
		neo4jURL  = flag.String("neo4j", "neo4j://localhost:7687", "Neo4j bolt URL")
		neo4jUser = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass = flag.String("neo4j-pass", "password", "Neo4j password")
		natsURL   = flag.String("nats", "", "NATS URL; when set, running APIs are asked to refresh")
		timeout   = flag.Duration("timeout", 2*time.Minute, "overall timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if *file == "" {
		log.Error("missing -file")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(*neo4jURL, neo4j.BasicAuth(*neo4jUser, *neo4jPass, ""))
	if err != nil {
		log.Error("neo4j connect failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close(context.Background())
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Error("neo4j verify failed", "error", err)
		os.Exit(1)
	}

	gs := graph.New(driver)
	if err := gs.EnsureSchema(ctx); err != nil {
		log.Error("ensure schema failed", "error", err)
		os.Exit(1)
	}
	store := mapping.NewNeo4jStore(repo.NewDriverOpener(driver, ""), mapping.WithLogger(log))

	var refresh refreshFunc
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("mapping-import"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		refresh = natsRefresher(nc)
	}

	opts := options{file: *file, reference: *reference, timeout: *timeout}
	if err := run(ctx, opts, os.Stdin, os.Stdout, store, gs, refresh, log); err != nil {
		log.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func natsRefresher(nc *nats.Conn) refreshFunc {
	return func(ctx context.Context) (mapping.RefreshStats, error) {
		return natsutil.Request[fitment.RefreshRequest, mapping.RefreshStats](ctx, nc, fitment.SubjectRefresh, fitment.RefreshRequest{Reason: "import"})
	}
}

func run(ctx context.Context, opts options, stdin io.Reader, out io.Writer, imp importer, ref referenceStore, refresh refreshFunc, log *slog.Logger) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	if opts.reference != "" {
		fx, err := loadFixture(opts.reference)
		if err != nil {
			return err
		}
		if err := ref.SeedReference(ctx, fx); err != nil {
			return err
		}
		log.Info("reference seeded", "vehicles", len(fx.Vehicles), "positions", len(fx.Positions))
	}

	data, err := readInput(opts.file, stdin)
	if err != nil {
		return err
	}
	res, err := imp.BulkImport(ctx, data)
	if err != nil {
		return err
	}
	log.Info("mappings imported", "imported", res.ImportedCount, "skipped", res.Skipped)

	if stats, err := ref.Stats(ctx); err != nil {
		log.Warn("reference stats failed", "error", err)
	} else {
		log.Info("graph contents", "stats", stats)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if refresh == nil || res.ImportedCount == 0 {
		return nil
	}
	stats, err := refresh(ctx)
	if err != nil {
		var remote *natsutil.RemoteError
		if errors.Is(err, nats.ErrNoResponders) || errors.As(err, &remote) {
			// The import is committed; instances pick it up on their next refresh.
			log.Warn("cache refresh request failed", "error", err)
			return nil
		}
		return fmt.Errorf("refresh: %w", err)
	}
	log.Info("cache refreshed", "loaded", stats.Loaded, "duplicates", stats.Duplicates)
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	return data, nil
}

func loadFixture(path string) (graph.ReferenceFixture, error) {
	var fx graph.ReferenceFixture
	data, err := os.ReadFile(path)
	if err != nil {
		return fx, fmt.Errorf("read reference: %w", err)
	}
	if err := json.Unmarshal(data, &fx); err != nil {
		return fx, fmt.Errorf("parse reference %s: %w", path, err)
	}
	return fx, nil
}

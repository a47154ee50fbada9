// Command quickopend is the fuzzy basename search daemon: it serves
// its HTTP routes over an in-memory, sharded basename index kept up to
// date by a cooperative background indexer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/fgprof"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sglog "github.com/sourcegraph/log"
	"go.uber.org/automaxprocs/maxprocs"
	nettrace "golang.org/x/net/trace"

	"github.com/quickopen/quickopend/internal/httpapi"
	"github.com/quickopen/quickopend/internal/idle"
	"github.com/quickopen/quickopend/internal/index"
	"github.com/quickopen/quickopend/internal/queryservice"
	"github.com/quickopen/quickopend/internal/settings"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("quickopend", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "address to listen on")
	port := fs.Int("port", 9999, "port to listen on")
	settingsPath := fs.String("settings", "", "path to settings file (default ~/.quickopend)")
	selfTest := fs.Bool("test", false, "run a one-shot self-check and exit")
	trace := fs.Bool("trace", false, "enable /debug/requests and /debug/fgprof")
	if err := fs.Parse(args); err != nil {
		return 255
	}

	liblog := sglog.Init(sglog.Resource{Name: "quickopend"})
	defer func() { _ = liblog.Sync() }()
	logger := sglog.Scoped("quickopend", "")

	_, _ = maxprocs.Set()

	path := *settingsPath
	if path == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			logger.Error("resolving default settings path", sglog.Error(err))
			return 255
		}
		path = p
	}
	cfg, err := settings.Load(path)
	if err != nil {
		logger.Error("loading settings", sglog.String("path", path), sglog.Error(err))
		return 255
	}

	idx := index.New(logger)
	if ft := cfg.FilterTextOr(""); ft != "" {
		if err := idx.SetFilterText(ft); err != nil {
			logger.Error("invalid filter_text", sglog.Error(err))
			return 255
		}
	}

	for _, dir := range cfg.Directories {
		idx.AddDir(dir)
	}

	query := queryservice.New(idx, logger)
	if qlog := cfg.QueryLogPath(); qlog != "" {
		f, err := os.OpenFile(qlog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("opening query log", sglog.Error(err))
			return 255
		}
		defer f.Close()
		query.SetQueryLog(f)
	}

	scheduler := idle.New()
	indexer := index.NewIndexer(idx, logger, int64(4))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runScheduler(ctx, scheduler, idx, indexer)

	if *selfTest {
		return runSelfTest(idx, query)
	}

	mux := http.NewServeMux()
	router := httpapi.New(idx, query, scheduler, logger, func() {
		logger.Info("exit requested")
		cancel()
	})
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.Handler())
	if *trace {
		nettrace.AuthRequest = func(*http.Request) (any, bool) { return true, true }
		mux.Handle("/debug/requests", http.HandlerFunc(nettrace.Traces))
		mux.Handle("/debug/events", http.HandlerFunc(nettrace.Events))
		mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		mux.Handle("/debug/fgprof", fgprof.Handler())
	}

	addr := fmt.Sprintf("%s:%d", cfg.HostOr(*host), cfg.PortOr(*port))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("starting server", sglog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ListenAndServe", sglog.Error(err))
			cancel()
		}
	}()

	shutdownOnSignalOrExit(ctx, srv, logger)
	return 0
}

// runScheduler subscribes the Indexer's step to hi-idle and keeps it
// subscribed until the Index reports up to date, re-subscribing
// whenever Index.Events() fires (a new directory added, a watched
// directory changed, or begin_reindex was called).
func runScheduler(ctx context.Context, scheduler *idle.Scheduler, idx *index.Index, indexer *index.Indexer) {
	var mu sync.Mutex
	var hiToken idle.Token
	subscribed := false

	subscribe := func() {
		mu.Lock()
		defer mu.Unlock()
		if subscribed {
			return
		}
		subscribed = true
		hiToken = scheduler.SubscribeHi(func() {
			if !indexer.StepIndexer() && idx.Status().IsUpToDate {
				mu.Lock()
				tok := hiToken
				subscribed = false
				mu.Unlock()
				scheduler.Unsubscribe(tok)
			}
		})
	}

	subscribe()
	go scheduler.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-idx.Events():
			subscribe()
		}
	}
}

func shutdownOnSignalOrExit(ctx context.Context, srv *http.Server, logger sglog.Logger) {
	c := make(chan os.Signal, 3)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	select {
	case <-c:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http.Server.Shutdown", sglog.Error(err))
	}
}

// runSelfTest is the `--test` smoke check: index a temp directory,
// issue a canned query, assert a hit, exit 0/1.
func runSelfTest(idx *index.Index, query *queryservice.Service) int {
	dir, err := os.MkdirTemp("", "quickopend-selftest-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "selftest: mkdtemp:", err)
		return 1
	}
	defer os.RemoveAll(dir)

	probe := filepath.Join(dir, "quickopend_selftest_probe.txt")
	if err := os.WriteFile(probe, []byte("x"), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "selftest: write probe file:", err)
		return 1
	}

	id := idx.AddDir(dir)
	indexer := index.NewIndexer(idx, sglog.NoOp(), 1)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		indexer.StepIndexer()
		if d, err := idx.GetDir(id); err == nil && d.Status == index.DirPublished {
			break
		}
	}

	res, err := query.Search(context.Background(), "quickopend_selftest_probe", 10)
	if err != nil {
		fmt.Fprintln(os.Stderr, "selftest: search:", err)
		return 1
	}
	for _, h := range res.Hits {
		if h == "quickopend_selftest_probe.txt" {
			fmt.Println("selftest: OK")
			return 0
		}
	}
	fmt.Fprintln(os.Stderr, "selftest: probe file not found in search results")
	return 1
}

// Command quickopen is the CLI front end for quickopend: it starts the
// daemon in the foreground (`run`, the default) or talks to an
// already-running one over HTTP (`status`, `stop`, `restart`, `add`).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/dustin/go-humanize"
	"github.com/peterbourgon/ff/v3/ffcli"
)

// verboseCount implements flag.Value so -v/--verbose can be repeated,
// the same counting-flag idiom ffcli examples use for multi-valued
// flags.
type verboseCount int

func (v *verboseCount) String() string { return fmt.Sprintf("%d", int(*v)) }
func (v *verboseCount) Set(string) error {
	*v++
	return nil
}

type rootConfig struct {
	host     string
	port     int
	settings string
	test     bool
	trace    bool
	verbose  verboseCount
}

func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.host, "host", "127.0.0.1", "daemon host")
	fs.IntVar(&c.port, "port", 9999, "daemon port")
	fs.StringVar(&c.settings, "settings", "", "path to settings file (default ~/.quickopend)")
	fs.BoolVar(&c.test, "test", false, "pass --test through to `run`")
	fs.BoolVar(&c.trace, "trace", false, "pass --trace through to `run`")
	fs.Var(&c.verbose, "v", "increase verbosity (repeatable)")
	fs.Var(&c.verbose, "verbose", "increase verbosity (repeatable)")
}

func (c *rootConfig) baseURL() string {
	return fmt.Sprintf("http://%s:%d", c.host, c.port)
}

func main() {
	os.Exit(mainRun(os.Args[1:]))
}

func mainRun(args []string) int {
	conf := rootConfig{}

	newFlagSet := func(name string) *flag.FlagSet {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		conf.registerFlags(fs)
		return fs
	}

	runCmd := &ffcli.Command{
		Name:       "run",
		ShortUsage: "quickopen run [flags]",
		ShortHelp:  "start the quickopend daemon in the foreground",
		FlagSet:    newFlagSet("run"),
		Exec:       func(ctx context.Context, args []string) error { return execRun(conf) },
	}
	statusCmd := &ffcli.Command{
		Name:       "status",
		ShortUsage: "quickopen status [flags]",
		ShortHelp:  "print the running daemon's status",
		FlagSet:    newFlagSet("status"),
		Exec:       func(ctx context.Context, args []string) error { return execStatus(conf) },
	}
	stopCmd := &ffcli.Command{
		Name:       "stop",
		ShortUsage: "quickopen stop [flags]",
		ShortHelp:  "stop the running daemon",
		FlagSet:    newFlagSet("stop"),
		Exec:       func(ctx context.Context, args []string) error { return execStop(conf) },
	}
	restartCmd := &ffcli.Command{
		Name:       "restart",
		ShortUsage: "quickopen restart [flags]",
		ShortHelp:  "stop the daemon, then start a new one in the foreground",
		FlagSet:    newFlagSet("restart"),
		Exec: func(ctx context.Context, args []string) error {
			_ = execStop(conf) // best-effort; daemon may already be down
			return execRun(conf)
		},
	}
	addCmd := &ffcli.Command{
		Name:       "add",
		ShortUsage: "quickopen add [flags] <path-or-glob>...",
		ShortHelp:  "add one or more directories to the running daemon's index",
		FlagSet:    newFlagSet("add"),
		Exec:       func(ctx context.Context, args []string) error { return execAdd(conf, args) },
	}

	root := &ffcli.Command{
		Name:        "quickopen",
		ShortUsage:  "quickopen [run|status|stop|restart|add|help] [flags]",
		FlagSet:     newFlagSet("quickopen"),
		Subcommands: []*ffcli.Command{runCmd, statusCmd, stopCmd, restartCmd, addCmd},
		Exec:        func(ctx context.Context, args []string) error { return execRun(conf) },
	}

	if err := root.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 255
	}
	if err := root.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "quickopen:", err)
		return 255
	}
	return 0
}

// execRun starts quickopend in the foreground by exec-ing the sibling
// binary on PATH, forwarding the daemon-relevant flags.
func execRun(conf rootConfig) error {
	bin, err := exec.LookPath("quickopend")
	if err != nil {
		return fmt.Errorf("quickopend not found on PATH: %w", err)
	}
	args := []string{
		"--host", conf.host,
		"--port", fmt.Sprintf("%d", conf.port),
	}
	if conf.settings != "" {
		args = append(args, "--settings", conf.settings)
	}
	if conf.test {
		args = append(args, "--test")
	}
	if conf.trace {
		args = append(args, "--trace")
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

func execStatus(conf rootConfig) error {
	status, err := fetchStatus(conf)
	if err != nil {
		return fmt.Errorf("daemon not responding at %s: %w", conf.baseURL(), err)
	}
	fmt.Printf("status: %s\n", status["status"])
	fmt.Printf("has_index: %v\n", status["has_index"])
	fmt.Printf("is_up_to_date: %v\n", status["is_up_to_date"])
	if n, ok := status["basenames"].(float64); ok {
		fmt.Printf("basenames: %s\n", humanize.Comma(int64(n)))
	}
	if n, ok := status["shard_count"].(float64); ok {
		fmt.Printf("shards: %s\n", humanize.Comma(int64(n)))
	}
	if n, ok := status["dir_count"].(float64); ok {
		fmt.Printf("directories: %s\n", humanize.Comma(int64(n)))
	}
	return nil
}

// execAdd expands each argument as a doublestar glob (so
// `quickopen add '/home/me/proj/**'` picks up every matching directory)
// and POSTs /dirs/add for each match. An argument that matches nothing
// (or is not a valid pattern) is sent through as a literal path, so
// plain `quickopen add .` still works.
func execAdd(conf rootConfig, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: quickopen add <path-or-glob>...")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for _, pattern := range args {
		matches, err := doublestar.Glob(pattern)
		if err != nil || len(matches) == 0 {
			matches = []string{pattern}
		}
		for _, path := range matches {
			body, err := json.Marshal(addDirRequest{Path: path})
			if err != nil {
				return err
			}
			resp, err := client.Post(conf.baseURL()+"/dirs/add", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("daemon not responding at %s: %w", conf.baseURL(), err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("adding %q: unexpected status %s", path, resp.Status)
			}
			fmt.Printf("added %s\n", path)
		}
	}
	return nil
}

type addDirRequest struct {
	Path string `json:"path"`
}

func execStop(conf rootConfig) error {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodPost, conf.baseURL()+"/exit", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not responding at %s: %w", conf.baseURL(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from /exit: %s", resp.Status)
	}
	return nil
}

func fetchStatus(conf rootConfig) (map[string]any, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(conf.baseURL() + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

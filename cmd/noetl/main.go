// Command noetl is the operator CLI from spec.md §6's core surface:
// register, run, execute status, and server/worker process control.
// Grounded on the teacher's cmd/cli/main.go (os.Args[1]/[2] command/
// subcommand dispatch, per-subcommand flag.NewFlagSet with
// endpoint/api-key/timeout flags, thin HTTP client wrapper rather than a
// direct store dependency). This module does not reproduce the teacher's
// pkg/sdk client layer — nothing in SPEC_FULL.md needs a reusable Go SDK
// package beyond this CLI itself, so the HTTP calls are made directly
// against internal/api/rest's documented surface (see DESIGN.md).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noetl/noetl/pkg/playbook"
)

// Exit codes per spec.md §6.
const (
	exitSuccess    = 0
	exitUserError  = 1
	exitSystemErr  = 2
	exitValidation = 3
)

const usage = `noetl - NoETL workflow runtime CLI

USAGE:
    noetl <command> [options]

COMMANDS:
    register <file>              Register a playbook YAML file with the catalog
    run <path> [--set k=v ...]   Start an execution of a registered playbook
    execute status <id>          Show an execution's current status
    server start|stop            Start or stop the orchestrator process
    worker start|stop             Start or stop a worker process

CONNECTION OPTIONS:
    -endpoint <url>   Orchestrator base URL (default: http://localhost:8080, env NOETL_ENDPOINT)
    -api-key <key>    API key sent as a Bearer token (env NOETL_API_KEY)
    -timeout <dur>    Request timeout (default: 30s)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUserError)
	}

	switch os.Args[1] {
	case "register":
		os.Exit(cmdRegister(os.Args[2:]))
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "execute":
		if len(os.Args) < 3 || os.Args[2] != "status" {
			fmt.Fprintln(os.Stderr, "Error: expected 'execute status <id>'")
			os.Exit(exitUserError)
		}
		os.Exit(cmdExecuteStatus(os.Args[3:]))
	case "server":
		os.Exit(cmdProcess("server", os.Args[2:]))
	case "worker":
		os.Exit(cmdProcess("worker", os.Args[2:]))
	case "help", "-h", "--help":
		fmt.Print(usage)
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUserError)
	}
}

type connOpts struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
}

func bindConnFlags(fs *flag.FlagSet) *connOpts {
	o := &connOpts{}
	fs.StringVar(&o.endpoint, "endpoint", getEnv("NOETL_ENDPOINT", "http://localhost:8080"), "Orchestrator base URL")
	fs.StringVar(&o.apiKey, "api-key", getEnv("NOETL_API_KEY", ""), "API key")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "Request timeout")
	return o
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *connOpts) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	client := &http.Client{Timeout: o.timeout}
	return client.Do(req)
}

func cmdRegister(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: register requires a playbook file path")
		return exitUserError
	}
	path := args[0]

	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	o := bindConnFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return exitUserError
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read %q: %v\n", path, err)
		return exitUserError
	}

	var def playbook.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to parse playbook YAML: %v\n", err)
		return exitValidation
	}
	if err := playbook.Validate(&def); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitValidation
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	resp, err := o.do(ctx, http.MethodPost, "/api/catalog/playbooks", def)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		return exitSystemErr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		printServerError(resp)
		return exitValidation
	}
	if resp.StatusCode >= 300 {
		printServerError(resp)
		return exitSystemErr
	}
	fmt.Printf("Registered playbook %q (version %d)\n", def.Path, def.Version)
	return exitSuccess
}

func cmdRun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: run requires a playbook path")
		return exitUserError
	}
	path := args[0]

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	o := bindConnFlags(fs)
	version := fs.Int("version", 0, "Playbook version (0 = latest)")
	var sets stringList
	fs.Var(&sets, "set", "Parameter override key=value (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUserError
	}

	params := map[string]any{}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: --set value %q must be key=value\n", kv)
			return exitUserError
		}
		params[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	resp, err := o.do(ctx, http.MethodPost, "/api/run/playbook", map[string]any{
		"path":       path,
		"version":    *version,
		"parameters": params,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		return exitSystemErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		printServerError(resp)
		return exitSystemErr
	}
	if resp.StatusCode >= 300 {
		printServerError(resp)
		return exitUserError
	}

	var out struct {
		ExecutionID int64 `json:"execution_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		return exitSystemErr
	}
	fmt.Printf("execution_id: %d\n", out.ExecutionID)
	return exitSuccess
}

func cmdExecuteStatus(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: execute status requires an execution id")
		return exitUserError
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid execution id %q\n", args[0])
		return exitUserError
	}

	fs := flag.NewFlagSet("execute status", flag.ContinueOnError)
	o := bindConnFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return exitUserError
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	resp, err := o.do(ctx, http.MethodGet, fmt.Sprintf("/api/executions/%d", id), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		return exitSystemErr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Fprintf(os.Stderr, "Error: execution %d not found\n", id)
		return exitSystemErr
	}
	if resp.StatusCode >= 300 {
		printServerError(resp)
		return exitSystemErr
	}

	body, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	return exitSuccess
}

// cmdProcess implements "server start|stop" and "worker start|stop" by
// managing the corresponding cmd/{server,worker} binary as a subprocess,
// tracked by a pidfile in the working directory — there is no separate
// daemon-manager dependency in the retrieved pack, so this follows the
// same os/exec + pidfile pattern used nowhere else in the pack but
// matching the teacher's general preference for plain stdlib process
// control over a third-party supervisor.
func cmdProcess(kind string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: %s requires start or stop\n", kind)
		return exitUserError
	}

	pidFile := fmt.Sprintf(".noetl-%s.pid", kind)

	switch args[0] {
	case "start":
		binary := "noetl-" + kind
		if path, err := exec.LookPath(binary); err == nil {
			binary = path
		}
		cmd := exec.Command(binary, args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start %s: %v\n", kind, err)
			return exitSystemErr
		}
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write pidfile: %v\n", err)
		}
		fmt.Printf("%s started, pid %d\n", kind, cmd.Process.Pid)
		return exitSuccess

	case "stop":
		raw, err := os.ReadFile(pidFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: no running %s found (%v)\n", kind, err)
			return exitSystemErr
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: malformed pidfile: %v\n", err)
			return exitSystemErr
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitSystemErr
		}
		if err := proc.Signal(os.Interrupt); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to signal %s (pid %d): %v\n", kind, pid, err)
			return exitSystemErr
		}
		os.Remove(pidFile)
		fmt.Printf("%s (pid %d) stopped\n", kind, pid)
		return exitSuccess

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown %s subcommand %q\n", kind, args[0])
		return exitUserError
	}
}

func printServerError(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "Error: server responded %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

// stringList implements flag.Value for repeatable --set k=v flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wippyai/ffi-bridge/bridge/wasmhost"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/dispatch"
	"github.com/wippyai/ffi-bridge/examples/todolist"
	"github.com/wippyai/ffi-bridge/internal/logging"
)

func main() {
	var (
		list        = flag.Bool("list", false, "List operations and exit")
		describe    = flag.Bool("schema", false, "Print the schema and exit")
		script      = flag.String("script", "", "Run calls from a file, one per line (- for stdin)")
		wasmFile    = flag.String("wasm", "", "Run a guest module against the core")
		entry       = flag.String("entry", "run", "Guest export to call with -wasm")
		logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	log, err := logging.New(config.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	log.Install()

	table, err := todolist.NewTable(dispatch.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer table.Registry().Close()

	switch {
	case *interactive:
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			err = fmt.Errorf("interactive mode needs a terminal")
			break
		}
		err = runInteractive(table)
	case *list:
		listOperations(os.Stdout, table)
	case *describe:
		fmt.Print(table.Compiler().Schema().Describe())
	case *wasmFile != "":
		err = runGuest(table, *wasmFile, *entry)
	case *script != "":
		err = runScript(table, *script)
	case flag.NArg() > 0:
		err = runOne(table, flag.Arg(0), flag.Args()[1:])
	default:
		fmt.Fprintln(os.Stderr, "Usage: ffi-run <operation> [args...]")
		fmt.Fprintln(os.Stderr, "       ffi-run -list | -schema")
		fmt.Fprintln(os.Stderr, "       ffi-run -script <file|->")
		fmt.Fprintln(os.Stderr, "       ffi-run -wasm <guest.wasm> [-entry run]")
		fmt.Fprintln(os.Stderr, "       ffi-run -i  (interactive mode)")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func listOperations(w io.Writer, table *dispatch.Table) {
	fmt.Fprintf(w, "Operations:\n")
	for _, d := range table.Descriptors() {
		fmt.Fprintf(w, "  %-12s %s\n", d.Kind, d.Signature())
	}
}

func runOne(table *dispatch.Table, name string, args []string) error {
	res, err := newInvoker(table).Call(context.Background(), name, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	fmt.Println(res)
	return nil
}

// runScript executes "operation arg..." lines against one invoker, so
// later lines can use handles returned by earlier ones. Arguments are
// separated by spaces; quote JSON strings that contain spaces.
func runScript(table *dispatch.Table, path string) error {
	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}
	prompt := path == "-" && term.IsTerminal(int(os.Stdin.Fd()))

	iv := newInvoker(table)
	sc := bufio.NewScanner(in)
	for line := 1; ; line++ {
		if prompt {
			fmt.Print("> ")
		}
		if !sc.Scan() {
			break
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields, err := splitArgs(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		res, err := iv.Call(context.Background(), fields[0], fields[1:])
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", line, fields[0], err)
		}
		fmt.Println(res)
	}
	return sc.Err()
}

// splitArgs splits on spaces outside double quotes and brackets, keeping
// quotes so JSON strings stay strings.
func splitArgs(s string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		depth   int
		inQuote bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == '[' || r == '{'):
			depth++
		case !inQuote && (r == ']' || r == '}'):
			depth--
		case !inQuote && depth == 0 && (r == ' ' || r == '\t'):
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if inQuote || depth != 0 {
		return nil, fmt.Errorf("unbalanced quotes or brackets")
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, nil
}

func runGuest(table *dispatch.Table, path, entry string) error {
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	host, err := wasmhost.New(ctx, table, &wasmhost.Config{})
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer host.Close(ctx)

	guest, err := host.Load(ctx, "guest", data)
	if err != nil {
		return fmt.Errorf("load guest: %w", err)
	}

	fn := guest.Module().ExportedFunction(entry)
	if fn == nil {
		return fmt.Errorf("guest does not export %q", entry)
	}

	fmt.Printf("Calling %s()...\n", entry)
	results, err := fn.Call(ctx)
	if err != nil {
		return fmt.Errorf("call %s: %w", entry, err)
	}
	fmt.Printf("Result: %v\n", results)
	fmt.Printf("Live handles: %d\n", table.Registry().Len())
	return nil
}

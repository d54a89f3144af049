// tcldis CLI - decompile Tcl procedures or serve the pipeline over HTTP.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/tcldis"
	"github.com/chazu/tcldis/cache"
	"github.com/chazu/tcldis/manifest"
	"github.com/chazu/tcldis/server"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	source := flag.String("e", "", "Tcl source to evaluate (instead of a file)")
	procName := flag.String("proc", tcldis.DefaultProcName, "Procedure name to decompile")
	disasm := flag.Bool("disasm", false, "Print raw bytecode disassembly instead of steps")
	legacy := flag.Bool("legacy", false, "Use the legacy sentinel-string output contract")
	serveMode := flag.Bool("serve", false, "Start the HTTP decompile service")
	addr := flag.String("addr", "", "Listen address (used with -serve, overrides tcldis.toml)")
	configDir := flag.String("config", ".", "Directory containing tcldis.toml")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides tcldis.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tcldis [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Evaluates Tcl source that defines a procedure and prints the\n")
		fmt.Fprintf(os.Stderr, "decompiled steps of that procedure as JSON.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tcldis -e 'proc p {} { return 1 }'   # decompile from the command line\n")
		fmt.Fprintf(os.Stderr, "  tcldis script.tcl                    # decompile from a file\n")
		fmt.Fprintf(os.Stderr, "  tcldis -disasm script.tcl            # raw bytecode listing\n")
		fmt.Fprintf(os.Stderr, "  tcldis -serve                        # HTTP service per tcldis.toml\n")
	}
	flag.Parse()

	m, err := manifest.Load(*configDir)
	if err != nil {
		m = manifest.Default()
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	commonlog.Configure(m.Log.Verbosity, nil)

	if *serveMode {
		if *addr != "" {
			m.Server.Addr = *addr
		}
		serve(m)
		return
	}

	code, err := readSource(*source, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	pipeline := tcldis.New(tcldis.WithProcName(*procName))

	if *legacy {
		fmt.Println(pipeline.DecompileLegacy(code))
		return
	}

	if *disasm {
		listing, err := pipeline.Disassemble(code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(listing)
		return
	}

	out, err := pipeline.Decompile(code)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func readSource(inline string, args []string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	switch len(args) {
	case 0:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	case 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("expected at most one file argument")
	}
}

func serve(m *manifest.Manifest) {
	var opts []server.Option
	if m.Cache.Enabled {
		store, err := cache.Open(m.CachePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, server.WithCache(store))
	}

	srv := server.New(tcldis.New(), opts...)
	defer srv.Stop()
	if err := srv.ListenAndServe(m.Server.Addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/specialistvlad/opgraph/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usage = `
opgraph - Traces tensor programs into operator graphs.

Usage:
  opgraph trace [options] PROGRAM_PATH

Arguments:
  PROGRAM_PATH
    Path to a program .hcl file or a directory containing .hcl files.

Environment:
  OPGRAPH_LOG_LEVEL, OPGRAPH_LOG_FORMAT, OPGRAPH_PUBLISH_URL
    Defaults for the matching options.

Options:
`

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("opgraph trace", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage)
		flagSet.PrintDefaults()
	}

	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "--help" {
		flagSet.Usage()
		return nil, true, nil
	}
	if args[0] != "trace" {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q: expected 'trace'", args[0])}
	}

	logFormatFlag := flagSet.String("log-format", envDefault("OPGRAPH_LOG_FORMAT", "text"), "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", envDefault("OPGRAPH_LOG_LEVEL", "info"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fakeFlag := flagSet.Bool("fake", false, "Trace on fake tensors that carry metadata only.")
	decomposeFlag := flagSet.String("decompose", "", "Comma separated operators to decompose, or 'core' for every built-in decomposition.")
	runFlag := flagSet.Bool("run", false, "Replay the traced graph on the program's declared inputs and print the outputs.")
	treeFlag := flagSet.Bool("tree", false, "Print the expression tree feeding the graph output.")
	publishURLFlag := flagSet.String("publish-url", envDefault("OPGRAPH_PUBLISH_URL", ""), "Socket.io endpoint to publish the traced graph to. Empty disables publishing.")
	publishTimeoutFlag := flagSet.Duration("publish-timeout", 10*time.Second, "How long to wait for the publish endpoint to connect and acknowledge.")

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No program path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("expected one program path, got %d", flagSet.NArg())}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var decompositions []string
	for _, name := range strings.Split(*decomposeFlag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			decompositions = append(decompositions, name)
		}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		ProgramPath:    flagSet.Arg(0),
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		Fake:           *fakeFlag,
		Decompositions: decompositions,
		Run:            *runFlag,
		Tree:           *treeFlag,
		PublishURL:     *publishURLFlag,
		PublishTimeout: *publishTimeoutFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// envDefault returns the value of the environment variable key, or fallback
// when it is unset or empty.
func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

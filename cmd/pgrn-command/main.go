// Command pgrn-command runs one diagnostic command against a pgrnscan
// database and prints the response envelope.
//
//	pgrn-command table_list
//	pgrn-command select Sources16386 --filter 'title @ "groonga"' --limit 5
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/dshills/pgrnscan/internal/config"
	"github.com/dshills/pgrnscan/internal/engine"
	"github.com/dshills/pgrnscan/internal/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to pgrnscan.yaml")
	dbPath := pflag.String("db", "", "database file, overrides engine.path")
	pflag.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: pgrn-command [--config file] [--db file] command [args...]\n")
		os.Exit(2)
	}

	rc, err := run(*configPath, *dbPath, pflag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "pgrn-command: %v\n", err)
		os.Exit(1)
	}
	if rc != engine.RCSuccess {
		os.Exit(1)
	}
}

func run(configPath, dbPath string, args []string) (int, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return 0, err
	}
	if dbPath != "" {
		cfg.Engine.Path = dbPath
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return 0, err
	}
	defer func() { _ = closer.Close() }()

	e := engine.New(*cfg, engine.WithLogger(logger))
	defer func() { _ = e.Finalize() }()

	resp, err := e.Command(context.Background(), joinCommand(args))
	if err != nil {
		return 0, err
	}
	fmt.Println(resp.String())
	return resp.RC, nil
}

// joinCommand quotes the words that need it so the engine splits them back
// into the same arguments.
func joinCommand(args []string) string {
	words := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\;&|<>`$") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		words[i] = a
	}
	return strings.Join(words, " ")
}

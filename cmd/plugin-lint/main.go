package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/scanner"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
	"github.com/jrjohn/arcana-plugin-runtime/pkg/logger"
)

func main() {
	root := flag.String("root", "", "validate every plugin directory under root")
	timeout := flag.Duration("timeout", time.Minute, "overall validation timeout")
	verbose := flag.Bool("v", false, "log loader activity")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: plugin-lint [-root dir] [-v] [plugin-dir ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		l, err := logger.New(logger.Config{Level: "debug", Development: true, Encoding: "console"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(2)
		}
		log = l
		defer log.Sync()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dirs := flag.Args()
	if *root != "" {
		found, err := scanner.Scan(ctx, *root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to scan %s: %v\n", *root, err)
			os.Exit(2)
		}
		dirs = append(dirs, found...)
	}
	if len(dirs) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(lint(ctx, dirs, log))
}

const maxErrorLen = 400

// lint validates each directory and returns the process exit code
func lint(ctx context.Context, dirs []string, log *zap.Logger) int {
	failed := 0
	for _, dir := range dirs {
		m, err := plugin.ValidatePluginDir(ctx, dir, nil, log)
		if err != nil {
			failed++
			fmt.Printf("FAIL %s\n     %s\n", dir, utils.TruncateString(err.Error(), maxErrorLen))
			continue
		}
		fmt.Printf("ok   %s (%s %s)\n", dir, m.PluginID, m.Version)
		fmt.Printf("     %s\n", summarize(m.Extensions()))
	}

	fmt.Printf("\n%d checked, %d failed\n", len(dirs), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// summarize renders the extension counts per bucket, sorted by bucket name
func summarize(ext api.ExtensionPoints) string {
	graphql := utils.SortExtensions(ext.GraphQL)
	database := utils.SortExtensions(ext.Database)
	return fmt.Sprintf("queries=%d mutations=%d subscriptions=%d types=%d tables=%d enums=%d hooks=%d",
		len(utils.FilterExtensions(graphql, string(api.GraphQLQuery))),
		len(utils.FilterExtensions(graphql, string(api.GraphQLMutation))),
		len(utils.FilterExtensions(graphql, string(api.GraphQLSubscription))),
		len(utils.FilterExtensions(graphql, string(api.GraphQLObject))),
		len(utils.FilterExtensions(database, string(api.DatabaseTable))),
		len(utils.FilterExtensions(database, string(api.DatabaseEnum))),
		len(ext.Hooks),
	)
}

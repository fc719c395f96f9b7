// Command proxymap is the read-only lookup table proxy daemon (spec.md §1,
// §4.1–§4.2). It opens named backend tables once per process and serves
// OPEN/LOOKUP requests from many clients over a Unix-domain socket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/ikedas/postfixproxy/internal/config"
	"github.com/ikedas/postfixproxy/internal/dict"
	"github.com/ikedas/postfixproxy/internal/gate"
	"github.com/ikedas/postfixproxy/internal/proxyd"
	"github.com/ikedas/postfixproxy/internal/server"
)

func main() {
	var (
		logLevel     string
		serviceName  string
		socketPath   string
		approvedMaps string
		maxRequests  int
		idleTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "proxymap",
		Short: "Postfix-style read-only lookup table proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(proxymapOptions{
				logLevel:     config.String(logLevel, "LOG_LEVEL", "warning"),
				serviceName:  config.String(serviceName, "SERVICE_NAME", "proxymap"),
				socketPath:   config.String(socketPath, "SOCKET_PATH", ""),
				approvedMaps: config.String(approvedMaps, "APPROVED_MAPS", ""),
				maxRequests:  config.Int(maxRequests, "MAX_REQUESTS", 0),
				idleTimeout:  config.Duration(idleTimeout, "IDLE_TIMEOUT", 0),
			})
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log-level", "v", "", "log level: debug, info, warning, error")
	cmd.Flags().StringVarP(&serviceName, "service-name", "n", "", "service name used in log lines")
	cmd.Flags().StringVarP(&socketPath, "socket-path", "s", "", "Unix-domain socket to listen on (required)")
	cmd.Flags().StringVar(&approvedMaps, "approved-maps", "", "whitespace-separated list of approved proxy: table references")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 0, "exit after this many requests, 0 disables the limit")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "exit after this much idle time, 0 disables the limit")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proxymap: %v\n", err)
		os.Exit(1)
	}
}

type proxymapOptions struct {
	logLevel     string
	serviceName  string
	socketPath   string
	approvedMaps string
	maxRequests  int
	idleTimeout  time.Duration
}

func run(opts proxymapOptions) error {
	if opts.socketPath == "" {
		return fmt.Errorf("-socket-path is required")
	}

	configureLogging(opts.logLevel)
	logger := commonlog.GetLogger("postfixproxy." + opts.serviceName)

	registry := dict.NewRegistry()
	registry.Bind("file", func(name string, _ int) (dict.Dict, error) {
		return dict.OpenFile(name)
	})
	registry.Bind("sqlite", func(name string, _ int) (dict.Dict, error) {
		return dict.OpenSQL("file:"+name, "lookup")
	})

	dispatcher := proxyd.New(registry)

	return server.Run(server.Config{
		SocketPath:  opts.socketPath,
		Handler:     dispatcher,
		MaxRequests: opts.maxRequests,
		IdleTimeout: opts.idleTimeout,
		Logger:      logger,
		PreAccept: func() bool {
			return registry.Changed()
		},
		PostJail: func() error {
			// spec §4.6: "post-jail builds the approved set and
			// pre-allocates reusable request buffers" — request
			// buffer pre-allocation has no equivalent here since
			// attrproto decodes straight into Go values with no
			// reusable scratch buffer to pre-size.
			dispatcher.SetGate(gate.Build(opts.approvedMaps))
			return nil
		},
	})
}

func configureLogging(level string) {
	verbosity := 2 // Warning by default
	switch level {
	case "debug":
		verbosity = 5
	case "info":
		verbosity = 4
	case "warning", "warn":
		verbosity = 2
	case "error":
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
}

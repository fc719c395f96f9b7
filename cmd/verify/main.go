// Command verify is the Postfix-style address verification cache daemon
// (spec.md §1, §4.3-§4.5). It maintains a persistent or in-memory mapping
// from recipient address to delivery status, scheduling probe messages to
// keep the cache fresh.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/ikedas/postfixproxy/internal/attrproto"
	"github.com/ikedas/postfixproxy/internal/config"
	"github.com/ikedas/postfixproxy/internal/dict"
	"github.com/ikedas/postfixproxy/internal/probe"
	"github.com/ikedas/postfixproxy/internal/server"
	"github.com/ikedas/postfixproxy/internal/verifyd"
	"github.com/ikedas/postfixproxy/internal/worker"
)

func main() {
	var (
		logLevel      string
		serviceName   string
		socketPath    string
		persistentMap string
		lockPath      string
		sender        string
		smtpAddr      string
		smtpHELO      string
		negativeCache bool
		posExpire     time.Duration
		posRefresh    time.Duration
		negExpire     time.Duration
		negRefresh    time.Duration
		maxRequests   int
		idleTimeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Postfix-style address verification cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(verifyOptions{
				logLevel:      config.String(logLevel, "LOG_LEVEL", "warning"),
				serviceName:   config.String(serviceName, "SERVICE_NAME", "verify"),
				socketPath:    config.String(socketPath, "SOCKET_PATH", ""),
				persistentMap: config.String(persistentMap, "PERSISTENT_MAP", ""),
				lockPath:      config.String(lockPath, "LOCK_PATH", ""),
				sender:        config.String(sender, "SENDER", ""),
				smtpAddr:      config.String(smtpAddr, "SMTP_ADDR", "localhost:25"),
				smtpHELO:      config.String(smtpHELO, "SMTP_HELO", "localhost"),
				negativeCache: config.Bool(negativeCache, cmd.Flags().Changed("negative-cache"), "NEGATIVE_CACHE", false),
				posExpire:     config.Duration(posExpire, "POSITIVE_EXPIRE", time.Hour),
				posRefresh:    config.Duration(posRefresh, "POSITIVE_REFRESH", 30*time.Minute),
				negExpire:     config.Duration(negExpire, "NEGATIVE_EXPIRE", 5*time.Minute),
				negRefresh:    config.Duration(negRefresh, "NEGATIVE_REFRESH", time.Minute),
				maxRequests:   config.Int(maxRequests, "MAX_REQUESTS", 0),
				idleTimeout:   config.Duration(idleTimeout, "IDLE_TIMEOUT", 0),
			})
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log-level", "v", "", "log level: debug, info, warning, error")
	cmd.Flags().StringVarP(&serviceName, "service-name", "n", "", "service name used in log lines")
	cmd.Flags().StringVarP(&socketPath, "socket-path", "s", "", "Unix-domain socket to listen on (required)")
	cmd.Flags().StringVar(&persistentMap, "persistent-map", "", "persistent map reference (type:name), empty keeps the cache in memory")
	cmd.Flags().StringVar(&lockPath, "lock-path", "", "solitary-instance lock file path (required when -persistent-map is set)")
	cmd.Flags().StringVar(&sender, "sender", "", "probe envelope sender, empty or <> for the null sender")
	cmd.Flags().StringVar(&smtpAddr, "smtp-addr", "", "SMTP relay address for probe submission")
	cmd.Flags().StringVar(&smtpHELO, "smtp-helo", "", "HELO name announced to the SMTP relay")
	cmd.Flags().BoolVar(&negativeCache, "negative-cache", false, "retain non-OK results in the cache")
	cmd.Flags().DurationVar(&posExpire, "positive-expire", 0, "how long a known-good address stays cached (default 1h)")
	cmd.Flags().DurationVar(&posRefresh, "positive-refresh", 0, "minimum interval between proactive re-probes of a good address (default 30m)")
	cmd.Flags().DurationVar(&negExpire, "negative-expire", 0, "how long a rejected address stays cached (default 5m)")
	cmd.Flags().DurationVar(&negRefresh, "negative-refresh", 0, "minimum interval between proactive re-probes of a bad address (default 1m)")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 0, "exit after this many requests, 0 disables the limit")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "exit after this much idle time, 0 disables the limit")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(1)
	}
}

type verifyOptions struct {
	logLevel      string
	serviceName   string
	socketPath    string
	persistentMap string
	lockPath      string
	sender        string
	smtpAddr      string
	smtpHELO      string
	negativeCache bool
	posExpire     time.Duration
	posRefresh    time.Duration
	negExpire     time.Duration
	negRefresh    time.Duration
	maxRequests   int
	idleTimeout   time.Duration
}

// engineHandler defers to whatever *verifyd.Engine was last installed,
// the same late-binding trick proxyd.Dispatcher uses for its gate: the
// persistent map (and thus the Engine, which wraps it) can only be opened
// from inside PreJail, after server.Config has already been built.
type engineHandler struct {
	engine atomic.Pointer[verifyd.Engine]
}

func (h *engineHandler) Handle(req attrproto.Request) *attrproto.Reply {
	e := h.engine.Load()
	if e == nil {
		return attrproto.NewReply().Set("status", verifyd.StatFail)
	}
	return e.Handle(req)
}

func run(opts verifyOptions) error {
	if opts.socketPath == "" {
		return fmt.Errorf("-socket-path is required")
	}

	configureLogging(opts.logLevel)
	logger := commonlog.GetLogger("postfixproxy." + opts.serviceName)

	inMemory := opts.persistentMap == ""
	submitter := probe.NewSMTPSubmitter(opts.smtpAddr, opts.smtpHELO)
	handler := &engineHandler{}

	var cache dict.Dict
	var unlockSolitary func() error

	preJail := func() error {
		// spec §4.6: pre-jail opens the persistent map (so file
		// creation happens while still privileged) or creates an
		// in-memory map, then isolates the process group so a
		// supervisor signal during shutdown cannot interrupt a
		// mid-write update (spec §5).
		if inMemory {
			cache = dict.NewMem(0)
		} else {
			if opts.lockPath == "" {
				return fmt.Errorf("-lock-path is required when -persistent-map is set")
			}
			unlock, err := worker.Solitary(opts.lockPath)
			if err != nil {
				return err
			}
			unlockSolitary = unlock

			c, err := openPersistentMap(opts.persistentMap)
			if err != nil {
				return err
			}
			cache = c
		}
		if err := worker.Isolate(); err != nil {
			return err
		}

		handler.engine.Store(verifyd.New(cache, submitter, verifyd.Config{
			Sender:        normalizeSender(opts.sender),
			PosExpire:     int64(opts.posExpire.Seconds()),
			PosRefresh:    int64(opts.posRefresh.Seconds()),
			NegExpire:     int64(opts.negExpire.Seconds()),
			NegRefresh:    int64(opts.negRefresh.Seconds()),
			NegativeCache: opts.negativeCache,
		}))
		return nil
	}

	maxRequests, idleTimeout := worker.DisableShutdownLimits(inMemory, opts.maxRequests, opts.idleTimeout)

	defer func() {
		if unlockSolitary != nil {
			unlockSolitary()
		}
		if closer, ok := cache.(interface{ Close() error }); ok && closer != nil {
			closer.Close()
		}
	}()

	return server.Run(server.Config{
		SocketPath:  opts.socketPath,
		Handler:     handler,
		MaxRequests: maxRequests,
		IdleTimeout: idleTimeout,
		Logger:      logger,
		PreJail:     preJail,
	})
}

func normalizeSender(sender string) string {
	if sender == "<>" {
		return ""
	}
	return sender
}

func openPersistentMap(ref string) (dict.Dict, error) {
	scheme, name, ok := splitRef(ref)
	if !ok {
		return nil, fmt.Errorf("verify: malformed persistent-map reference %q", ref)
	}
	switch scheme {
	case "sqlite":
		return dict.OpenSQLCache("file:" + name)
	default:
		return nil, fmt.Errorf("verify: unsupported persistent-map scheme %q", scheme)
	}
}

func splitRef(ref string) (scheme, name string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

func configureLogging(level string) {
	verbosity := 2
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

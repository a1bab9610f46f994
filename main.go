package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksproxy/internal/dialer"
	"github.com/die-net/socksproxy/internal/logging"
	"github.com/die-net/socksproxy/internal/proxy"
	"github.com/die-net/socksproxy/internal/resolver"
	"github.com/die-net/socksproxy/internal/socks5"
)

const (
	defaultPort = 1080

	// defaultDNSTimeout bounds --dns-server queries when --dial-timeout is 0.
	defaultDNSTimeout = 5 * time.Second
)

// Reserve a minimum GC heap so per-connection buffers don't drive frequent
// collections under many short sessions. Only virtual memory is allocated.
var ballast = make([]byte, 0, 25_000_000)

func main() {
	_ = ballast

	if err := newRootCommand(run).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	Port               int
	ListenHost         string
	Credentials        socks5.Credentials
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	ReusePort          bool
	DNSServer          string
	DNSCacheTTL        time.Duration
	DebugListen        string
	Verbose            bool
}

// envBindings maps each flag to the environment variable that can set it.
// Flags given on the command line win over the environment.
var envBindings = map[string]string{
	"port":                "PORT",
	"username":            "SOCKS_USER",
	"password":            "SOCKS_PASS",
	"listen-host":         "SOCKS_LISTEN_HOST",
	"dial-timeout":        "SOCKS_DIAL_TIMEOUT",
	"negotiation-timeout": "SOCKS_NEGOTIATION_TIMEOUT",
	"tcp-keepalive":       "SOCKS_TCP_KEEPALIVE",
	"reuse-port":          "SOCKS_REUSE_PORT",
	"dns-server":          "SOCKS_DNS_SERVER",
	"dns-cache-ttl":       "SOCKS_DNS_CACHE_TTL",
	"debug-listen":        "SOCKS_DEBUG_LISTEN",
	"verbose":             "SOCKS_VERBOSE",
}

func newRootCommand(runFn func(context.Context, *options) error) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "socksproxy",
		Short:         "socksproxy is a SOCKS5 forward proxy with username/password authentication",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			return runFn(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.SortFlags = false
	f.String("port", strconv.Itoa(defaultPort), "TCP port to listen on")
	f.String("listen-host", "", "Address to listen on. Empty listens on all interfaces.")
	f.String("username", "testuser", "Username clients must present")
	f.String("password", "testpass", "Password clients must present")
	f.Duration("dial-timeout", 0, "Timeout for outbound DNS lookup and TCP connect. 0 uses the OS default.")
	f.Duration("negotiation-timeout", 0, "Timeout for a client to finish greeting, auth and request. 0 disables.")
	f.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	f.Bool("reuse-port", false, "Set SO_REUSEPORT on the listening socket")
	f.String("dns-server", "", "DNS server (host[:port]) for destination lookups. Empty uses the system resolver.")
	f.Duration("dns-cache-ttl", 0, "Cache successful destination lookups for this long. 0 disables.")
	f.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	f.Bool("verbose", false, "Enable debug logging")

	bindFlags(v, f)

	return cmd
}

// bindFlags makes each flag in envBindings readable through v, falling back
// to its environment variable and then its default.
func bindFlags(v *viper.Viper, f *pflag.FlagSet) {
	for key, env := range envBindings {
		_ = v.BindPFlag(key, f.Lookup(key))
		_ = v.BindEnv(key, env)
	}
}

func loadOptions(v *viper.Viper) (*options, error) {
	port, err := parsePort(v.GetString("port"))
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	ka, err := parseTCPKeepAlive(v.GetString("tcp-keepalive"))
	if err != nil {
		return nil, fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	opts := &options{
		Port:       port,
		ListenHost: v.GetString("listen-host"),
		Credentials: socks5.Credentials{
			Username: v.GetString("username"),
			Password: v.GetString("password"),
		},
		KeepAlive:   ka,
		ReusePort:   v.GetBool("reuse-port"),
		DNSServer:   v.GetString("dns-server"),
		DebugListen: v.GetString("debug-listen"),
		Verbose:     v.GetBool("verbose"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"dial-timeout", &opts.DialTimeout},
		{"negotiation-timeout", &opts.NegotiationTimeout},
		{"dns-cache-ttl", &opts.DNSCacheTTL},
	}
	for _, d := range durations {
		*d.dst, err = parseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", d.key, err)
		}
	}

	if len(opts.Credentials.Username) > 255 || len(opts.Credentials.Password) > 255 {
		return nil, errors.New("username and password must each be at most 255 bytes")
	}

	return opts, nil
}

func run(ctx context.Context, opts *options) error {
	log, err := logging.New(opts.Verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	res := resolver.NewSystem()
	if opts.DNSServer != "" {
		timeout := opts.DialTimeout
		if timeout <= 0 {
			timeout = defaultDNSTimeout
		}
		res, err = resolver.NewDNS(opts.DNSServer, timeout)
		if err != nil {
			return fmt.Errorf("invalid --dns-server: %w", err)
		}
	}
	if opts.DNSCacheTTL > 0 {
		cache := resolver.NewCache(res, opts.DNSCacheTTL)
		defer cache.Close()
		res = cache
	}

	cfg := proxy.Config{
		Credentials:        opts.Credentials,
		NegotiationTimeout: opts.NegotiationTimeout,
		KeepAlive:          opts.KeepAlive,
		Logger:             log,
	}
	cfg.Dialer = dialer.NewDirectDialer(dialer.Config{
		DialTimeout: opts.DialTimeout,
		KeepAlive:   cfg.KeepAlive,
		Resolver:    res,
	})

	g, ctx := errgroup.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind everything before starting any goroutine so a failed bind
	// leaves nothing running.
	addr := net.JoinHostPort(opts.ListenHost, strconv.Itoa(opts.Port))
	ln, err := proxy.ListenTCP("tcp", addr, cfg.KeepAlive, opts.ReusePort)
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}

	var debugLn net.Listener
	if opts.DebugListen != "" {
		lc := net.ListenConfig{KeepAliveConfig: cfg.KeepAlive}
		debugLn, err = lc.Listen(ctx, "tcp", opts.DebugListen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("debug listen: %w", err)
		}
	}

	if debugLn != nil {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", zap.Stringer("addr", debugLn.Addr()))
	}

	s5 := proxy.NewSOCKS5Server(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := s5.Serve(ln); err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})

	log.Info("listening", zap.Stringer("addr", ln.Addr()), zap.String("user", opts.Credentials.Username))

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

// parsePort parses a listen port. Empty means the default.
func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultPort, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 65535 {
		return 0, errors.New("must be between 1 and 65535")
	}
	return n, nil
}

// parseDuration accepts Go durations and treats empty as zero.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must be >= 0")
	}
	return d, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

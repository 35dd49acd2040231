package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/trawl/internal/output"
	"github.com/tanq16/trawl/internal/utils"
)

var (
	workers       int
	retries       int
	noResume      bool
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	debug         bool
	quiet         bool
	logFile       string
	metricsAddr   string
)

var TrawlVersion = "dev"

var errTransfersFailed = errors.New("one or more transfers failed")

var rootCmd = &cobra.Command{
	Use:           "trawl",
	Short:         "Trawl is a concurrent, resumable CLI downloader",
	Version:       TrawlVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(utils.LogConfig{Debug: debug, File: logFile, Quiet: quiet})
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errTransfersFailed) {
			fmt.Fprintln(os.Stderr, output.FError(err.Error()))
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", utils.DefaultConcurrency, "Number of transfers to run in parallel (above 5 enables high-thread-mode)")
	rootCmd.PersistentFlags().IntVarP(&retries, "retries", "r", utils.DefaultRetries, "Retries per transfer on connection errors and 5xx responses")
	rootCmd.PersistentFlags().BoolVar(&noResume, "no-resume", false, "Always download from scratch instead of resuming partial files")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Connection and response header timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", utils.DefaultKATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS/SOCKS5 proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress display and log only warnings and errors")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to a rotated file")
	rootCmd.PersistentFlags().Lookup("log-file").NoOptDefVal = utils.LogFile
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while transfers run (e.g., :9090)")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newGHReleaseCmd())
}

// engineConfig builds the engine configuration from the persistent flags.
func engineConfig() (utils.EngineConfig, error) {
	cfg := utils.DefaultEngineConfig()
	cfg.Concurrency = workers
	cfg.Retries = retries
	cfg.Resumable = !noResume
	cfg.Timeout = timeout
	cfg.KATimeout = kaTimeout
	cfg.HighThreadMode = workers > 5
	cfg.UserAgent = userAgent
	if userAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}

	// Credentials embedded in the proxy URL win unless given explicitly
	cfg.Proxy, cfg.ProxyUsername, cfg.ProxyPassword = proxyURL, proxyUsername, proxyPassword
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		cfg.ProxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			cfg.ProxyPassword = password
		}
		parsedProxy.User = nil
		cfg.Proxy = parsedProxy.String()
	}

	headerMap, err := utils.ParseHeaderArgs(headers)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.WithHeaders(headerMap)
	return cfg, cfg.Validate()
}

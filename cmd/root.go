package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/telvos/ferry/internal/config"
	"github.com/telvos/ferry/internal/output"
	"github.com/telvos/ferry/internal/utils"
	"golang.org/x/term"
)

var (
	cfgFile       string
	outputPath    string
	connections   int
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	rateLimit     string
	serverURL     string
	token         string
	username      string
	password      string
	debug         bool

	globalHTTPConfig utils.HTTPClientConfig
)

var FerryVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "ferry",
	Short:   "Ferry is a resumable multi-connection file transfer tool",
	Version: FerryVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup layers defaults, config file, environment and flags, then
// builds the HTTP client configuration shared by every job.
func setup(cmd *cobra.Command) error {
	explicit := cfgFile != ""
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return err
	}

	// Flags win only when set on the command line.
	flags := cmd.Flags()
	if !flags.Changed("connections") {
		connections = cfg.Connections
	}
	if !flags.Changed("workers") {
		workers = cfg.Workers
	}
	if !flags.Changed("timeout") && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	if !flags.Changed("keep-alive-timeout") && cfg.KATimeout > 0 {
		kaTimeout = cfg.KATimeout
	}
	if !flags.Changed("user-agent") && cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}
	if !flags.Changed("proxy") && cfg.Proxy != "" {
		proxyURL = cfg.Proxy
	}
	if !flags.Changed("rate-limit") && cfg.RateLimit != "" {
		rateLimit = cfg.RateLimit
	}
	if !flags.Changed("server") && cfg.Server != "" {
		serverURL = cfg.Server
	}
	if !flags.Changed("token") && cfg.Token != "" {
		token = cfg.Token
	}
	if !flags.Changed("username") && cfg.Username != "" {
		username = cfg.Username
	}
	if !flags.Changed("debug") {
		debug = cfg.Debug
	}

	utils.InitLogger(debug)
	if debug {
		// Debug logs go to a file so they do not fight the live display.
		if f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			utils.SetLogOutput(f)
		}
	}

	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Pull auth out of the proxy URL when given inline.
	if parsedProxy, err := u.Parse(proxyURL); err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if pw, set := parsedProxy.User.Password(); set {
			proxyPassword = pw
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	var rateBps int64
	if rateLimit != "" {
		rateBps, err = utils.ParseBytes(rateLimit)
		if err != nil {
			return fmt.Errorf("invalid rate limit %q: %v", rateLimit, err)
		}
	}
	globalHTTPConfig = utils.HTTPClientConfig{
		Timeout:        timeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(headers),
		RateLimit:      rateBps,
		HighThreadMode: connections > 8,
	}
	return nil
}

// resolveToken returns the server access token, deriving it from
// credentials when no pre-shared token is configured. The password is
// prompted for rather than accepted on the command line unless given.
func resolveToken() (string, error) {
	if token != "" {
		return token, nil
	}
	if username == "" {
		return "", fmt.Errorf("server access requires --token or --username")
	}
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		entered, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("error reading password: %v", err)
		}
		password = string(entered)
	}
	return utils.GenerateToken(username, password), nil
}

func requireServer() error {
	if serverURL == "" {
		return fmt.Errorf("no server configured, set --server, FERRY_SERVER or the config file")
	}
	return nil
}

func exitFailure(message string) {
	fmt.Println()
	output.PrintError(message)
	os.Exit(1)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file path (default $HOME/.ferry.yaml)")
	pf.IntVarP(&connections, "connections", "c", 4, "Number of connections per transfer (above 8 enables high-thread-mode)")
	pf.IntVarP(&workers, "workers", "w", 2, "Number of transfers to run in parallel")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Hour, "Connection timeout (eg. 30m, 3h)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser UA)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.StringVarP(&rateLimit, "rate-limit", "r", "", "Aggregate transfer rate ceiling (eg. 500KB, 4MB)")
	pf.StringVarP(&serverURL, "server", "s", "", "Ferry file server URL")
	pf.StringVar(&token, "token", "", "Pre-shared server access token")
	pf.StringVarP(&username, "username", "u", "", "Server username (token is derived with the password)")
	pf.StringVar(&password, "password", "", "Server password (prompted when omitted)")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}

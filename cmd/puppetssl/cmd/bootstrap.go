package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kboghdady/puppet/bootstrap"
	"github.com/kboghdady/puppet/caclient"
	"github.com/kboghdady/puppet/certstore"
	"github.com/kboghdady/puppet/config"
	"github.com/kboghdady/puppet/journal"
	"github.com/kboghdady/puppet/statusapi"
)

var (
	confdir        string
	certname       string
	caServer       string
	dnsAltNames    string
	csrAttrsPath   string
	noRevocation   bool
	waitForCert    int
	onetime        bool
	requestTimeout time.Duration
	keySize        int
	statusAddr     string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Run the SSL bootstrap sequence once (or until a certificate is issued)",
	RunE:  runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	hostname, _ := os.Hostname()
	bootstrapCmd.Flags().StringVar(&confdir, "confdir", "/etc/puppetssl", "configuration and ssl directory")
	bootstrapCmd.Flags().StringVar(&certname, "certname", hostname, "this agent's certificate name")
	bootstrapCmd.Flags().StringVar(&caServer, "ca-server", "https://puppet:8140", "base URL of the CA server")
	bootstrapCmd.Flags().StringVar(&dnsAltNames, "dns-alt-names", "", "comma-separated DNS:/IP: alt names for the CSR")
	bootstrapCmd.Flags().StringVar(&csrAttrsPath, "csr-attributes", "", "path to a csr_attributes.yaml document")
	bootstrapCmd.Flags().BoolVar(&noRevocation, "no-revocation", false, "disable CRL fetch and revocation checking")
	bootstrapCmd.Flags().IntVar(&waitForCert, "waitforcert", 120, "seconds to sleep between polling attempts; 0 disables polling")
	bootstrapCmd.Flags().BoolVar(&onetime, "onetime", false, "exit instead of waiting if no certificate is available yet")
	bootstrapCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 2*time.Minute, "timeout for each CA HTTP request")
	bootstrapCmd.Flags().IntVar(&keySize, "keysize", 4096, "RSA modulus size for a newly generated private key")
	bootstrapCmd.Flags().StringVar(&statusAddr, "status-addr", "", "if set, serve a local read-only status endpoint on this loopback address while waiting")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	printBanner()

	if certname == "" {
		return fmt.Errorf("certname must not be empty")
	}

	cfg := config.Default(confdir, certname)
	cfg.CAServerURL = caServer
	cfg.DNSAltNames = dnsAltNames
	cfg.CSRAttributesPath = csrAttrsPath
	cfg.CertificateRevocation = !noRevocation
	cfg.WaitForCert = waitForCert
	cfg.Onetime = onetime
	cfg.RequestTimeout = requestTimeout
	cfg.KeySize = keySize

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	j, err := journal.Open(filepath.Join(confdir, "bootstrap.db"))
	if err != nil {
		return fmt.Errorf("opening bootstrap journal: %w", err)
	}
	defer j.Close()

	ca, err := caclient.New(cfg.CAServerURL, cfg.RequestTimeout, caclient.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if statusAddr != "" {
		stopStatus := startStatusServer(statusAddr, j, logger)
		defer stopStatus()
	}

	deps := bootstrap.Deps{
		Config:    cfg,
		Store:     certstore.New(cfg, certstore.WithLogger(logger)),
		CA:        ca,
		Journal:   j,
		Logger:    logger,
		AttemptID: uuid.New().String(),
	}

	final, err := bootstrap.Run(ctx, deps)
	if err != nil {
		return err
	}

	switch state := final.(type) {
	case bootstrap.Exit:
		os.Exit(state.Code)
	case bootstrap.Done:
		fmt.Printf("SSL context established for %s (client credentials: %v)\n", certname, state.Context.HasClientCredentials())
	}
	return nil
}

// startStatusServer serves statusapi on a loopback listener for the
// duration of a bootstrap run and returns a function that shuts it down.
func startStatusServer(addr string, j *journal.Journal, logger *slog.Logger) func() {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Warn("could not start status endpoint", "addr", addr, "error", err)
		return func() {}
	}

	srv := &http.Server{Handler: statusapi.New(j).Router()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("status endpoint stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

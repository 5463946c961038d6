package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/caio-sobreiro/storescu/client"
	"github.com/caio-sobreiro/storescu/config"
	"github.com/caio-sobreiro/storescu/internal/logging"
	"github.com/caio-sobreiro/storescu/pdu"
	"github.com/caio-sobreiro/storescu/scu"
)

// options holds the parsed command line.
type options struct {
	localAE     string
	listFile    string
	host        string
	port        int
	serviceList string
	profilePath string
	window      int // -1 keeps the profile value
	username    string
	passcode    string
	identityRsp bool
	verbose     bool
	progress    bool

	remoteAE string
	start    int
	stop     int
}

func parseArgs(args []string, output io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("storescu", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.localAE, "a", "", "Local AE title (default: profile local_ae_title)")
	fs.StringVar(&opts.listFile, "f", "", "File listing the images to send, one path per line")
	fs.StringVar(&opts.host, "n", "", "Remote host (default: profile node for remote_ae)")
	fs.IntVar(&opts.port, "p", 0, "Remote port (default: profile node for remote_ae)")
	fs.StringVar(&opts.serviceList, "l", "", "Service list proposed during negotiation (default: "+config.DefaultServiceList+")")
	fs.StringVar(&opts.profilePath, "c", "", "YAML application profile")
	fs.IntVar(&opts.window, "m", -1, "Asynchronous operations window to propose, 0 for no limit (default: profile max_operations_invoked)")
	fs.StringVar(&opts.username, "u", "", "Username proposed for user identity negotiation")
	fs.StringVar(&opts.passcode, "w", "", "Passcode sent with the -u username")
	fs.BoolVar(&opts.identityRsp, "q", false, "Request a positive user identity response from the server")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&opts.progress, "progress", false, "Show a progress bar when stderr is a terminal")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: storescu [options] <remote_ae> [start] [stop]\n\n")
		fmt.Fprintf(fs.Output(), "Sends <start>.img through <stop>.img, or the files listed with -f.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) > 3 {
		return nil, fmt.Errorf("too many arguments: %v", rest[3:])
	}

	opts.remoteAE = config.DefaultRemoteAETitle
	if len(rest) > 0 {
		opts.remoteAE = rest[0]
	}
	if opts.remoteAE == "" || len(opts.remoteAE) > 16 {
		return nil, fmt.Errorf("remote AE title %q must be 1-16 characters", opts.remoteAE)
	}
	if len(opts.localAE) > 16 {
		return nil, fmt.Errorf("local AE title %q must be at most 16 characters", opts.localAE)
	}

	if len(rest) > 1 {
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid start image number %q", rest[1])
		}
		opts.start, opts.stop = n, n
	}
	if len(rest) > 2 {
		n, err := strconv.Atoi(rest[2])
		if err != nil {
			return nil, fmt.Errorf("invalid stop image number %q", rest[2])
		}
		opts.stop = n
	}
	if opts.listFile == "" && opts.stop < opts.start {
		return nil, errors.New("image stop number must be greater than or equal to image start number")
	}

	if opts.port < 0 || opts.port > 65535 {
		return nil, fmt.Errorf("invalid remote port %d", opts.port)
	}
	if opts.window < -1 || opts.window > 65535 {
		return nil, fmt.Errorf("invalid asynchronous window %d", opts.window)
	}
	if opts.username == "" && (opts.passcode != "" || opts.identityRsp) {
		return nil, errors.New("-w and -q require a username given with -u")
	}
	if len(opts.username) > 65535 || len(opts.passcode) > 65535 {
		return nil, errors.New("user identity fields must be at most 65535 bytes")
	}
	return opts, nil
}

// newConnector resolves the peer address and the proposed services from the
// command line and the profile.
func newConnector(opts *options, profile *config.Profile, logger *slog.Logger) (*scu.ClientConnector, error) {
	node, _ := profile.Node(opts.remoteAE)

	host := opts.host
	if host == "" {
		host = node.Host
	}
	port := opts.port
	if port == 0 {
		port = node.Port
	}
	if host == "" || port == 0 {
		return nil, fmt.Errorf("no address for %q: use -n and -p or add the node to the profile", opts.remoteAE)
	}

	listName := opts.serviceList
	if listName == "" {
		listName = node.ServiceList
	}
	if listName == "" {
		listName = config.DefaultServiceList
	}
	services, err := profile.Services(listName)
	if err != nil {
		return nil, err
	}

	localAE := opts.localAE
	if localAE == "" {
		localAE = profile.LocalAETitle
	}
	window := profile.MaxOperationsInvoked
	if opts.window >= 0 {
		window = uint16(opts.window)
	}

	contexts := make([]client.ProposedContext, 0, len(services))
	for _, svc := range services {
		contexts = append(contexts, client.ProposedContext{
			AbstractSyntax:   svc.SOPClassUID,
			TransferSyntaxes: svc.TransferSyntaxes,
		})
	}

	var identity *pdu.UserIdentity
	if opts.username != "" {
		identity = &pdu.UserIdentity{
			Type:                      pdu.UserIdentityUsername,
			PositiveResponseRequested: opts.identityRsp,
			PrimaryField:              []byte(opts.username),
		}
		if opts.passcode != "" {
			identity.Type = pdu.UserIdentityUsernamePasscode
			identity.SecondaryField = []byte(opts.passcode)
		}
	}

	return &scu.ClientConnector{
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
		Config: client.Config{
			CallingAETitle:       localAE,
			CalledAETitle:        opts.remoteAE,
			MaxPDULength:         profile.MaxPDULength,
			ConnectTimeout:       profile.ConnectTimeout,
			ReadTimeout:          profile.ReadTimeout,
			WriteTimeout:         profile.WriteTimeout,
			Logger:               logger,
			PresentationContexts: contexts,
			MaxOperationsInvoked: window,
			UserIdentity:         identity,
		},
	}, nil
}

func buildQueue(opts *options, logger *slog.Logger) (*scu.WorkQueue, error) {
	queue := scu.NewWorkQueue(logger)
	if opts.listFile != "" {
		if _, err := queue.EnumerateListFile(opts.listFile); err != nil {
			return nil, err
		}
		return queue, nil
	}
	if err := queue.EnumerateRange(opts.start, opts.stop); err != nil {
		return nil, err
	}
	return queue, nil
}

// newProgressBar returns nil unless stderr is a terminal.
func newProgressBar(queue *scu.WorkQueue) *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}

	var total int64
	for _, item := range queue.Items() {
		if info, err := os.Stat(item.SourcePath); err == nil {
			total += info.Size()
		}
	}
	if total == 0 {
		total = -1
	}

	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(fmt.Sprintf("Sending %d files", queue.Len())),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func run(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "storescu: %v\n", err)
		return 1
	}

	level := "info"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.New("storescu", level, os.Stderr)
	slog.SetDefault(logger)

	profile := config.Default()
	if opts.profilePath != "" {
		if profile, err = config.Load(opts.profilePath); err != nil {
			logger.Error("Failed to load profile", "path", opts.profilePath, "error", err)
			return 1
		}
	}

	connector, err := newConnector(opts, profile, logger)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 1
	}

	queue, err := buildQueue(opts, logger)
	if err != nil {
		logger.Error("Failed to build the file list", "error", err)
		return 1
	}
	if queue.Len() == 0 {
		logger.Warn("No files to send")
		return 0
	}

	logger.Info("Opening connection to remote system",
		"remote_ae", opts.remoteAE,
		"address", connector.Address,
		"local_ae", connector.Config.CallingAETitle,
		"files", queue.Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := scu.Open(ctx, connector, scu.WithLogger(logger))
	if err != nil {
		logger.Error("Unable to open association", "remote_ae", opts.remoteAE, "error", err)
		return 1
	}

	dispatcherOpts := []scu.DispatcherOption{scu.WithIdleTimeout(profile.IdleTimeout)}
	if profile.ResponseTimeout > 0 {
		dispatcherOpts = append(dispatcherOpts, scu.WithResponseTimeout(profile.ResponseTimeout))
	}
	var bar *progressbar.ProgressBar
	if opts.progress {
		if bar = newProgressBar(queue); bar != nil {
			dispatcherOpts = append(dispatcherOpts, scu.WithProgress(bar))
		}
	}

	result, err := scu.NewDispatcher(queue, scu.NewFileReader(logger), session, dispatcherOpts...).Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		logger.Warn("Association aborted", "error", err)
	}
	if err := session.Close(); err != nil {
		logger.Warn("Association release failed", "error", err)
	} else if !result.Aborted {
		logger.Info("Association closed")
	}

	for _, item := range queue.Items() {
		if item.Failed {
			logger.Warn("File not stored",
				"file", item.SourcePath,
				"state", item.State.String(),
				"error", item.Err)
		}
	}

	logger.Info(fmt.Sprintf("Data Transferred: %dMB", result.BytesRead/(1024*1024)),
		"sent", result.ImagesSent,
		"acknowledged", result.Acknowledged,
		"warnings", result.Warnings,
		"failed", result.Failed,
		"elapsed", fmt.Sprintf("%.3fs", result.Elapsed.Seconds()),
		"rate_kbps", fmt.Sprintf("%.1f", transferRateKBps(result.BytesRead, result.Elapsed)))
	return 0
}

// transferRateKBps returns the read throughput in KB/s, or 0 when no time
// has elapsed.
func transferRateKBps(bytesRead int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytesRead) / 1024 / elapsed.Seconds()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

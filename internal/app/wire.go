package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"otrkit/internal/config"
	"otrkit/internal/domain"
	"otrkit/internal/instrument"
	"otrkit/internal/log"
	"otrkit/internal/relay"
	"otrkit/internal/store"
	"otrkit/pkg/otrkit"
)

// Wire bundles all stores, clients and the log backend for the CLI.
type Wire struct {
	Config       *config.Config
	Log          *log.Backend
	PrivateKeys  *store.PrivateKeyFileStore
	Fingerprints *store.FingerprintDB
	InstanceTags *store.InstanceTagFileStore
	Relay        domain.RelayClient
	HTTP         *http.Client
	// Metrics is nil unless the config names a metrics address.
	Metrics *instrument.Prometheus
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg *config.Config, opts Options) (*Wire, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: data dir: %w", err)
	}

	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	// File-based stores
	privateKeys := store.NewPrivateKeyFileStore(cfg.DataDir, opts.Passphrase)
	if opts.FastKDF {
		privateKeys.FastKDF()
	}
	tags, err := store.NewInstanceTagFileStore(cfg.DataDir)
	if err != nil {
		backend.Close()
		return nil, err
	}
	fps, err := store.OpenFingerprintDB(filepath.Join(cfg.DataDir, store.FingerprintDBFilename))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("app: fingerprint db: %w", err)
	}

	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	w := &Wire{
		Config:       cfg,
		Log:          backend,
		PrivateKeys:  privateKeys,
		Fingerprints: fps,
		InstanceTags: tags,
		Relay:        relay.NewHTTP(backend.GetLogger("relay"), cfg.Relay.URL, httpClient),
		HTTP:         httpClient,
	}
	if cfg.Metrics.Address != "" {
		w.Metrics = instrument.New()
	}
	return w, nil
}

// NewKit builds a Kit over the wired stores.
func (w *Wire) NewKit(d otrkit.Delegate, dispatcher otrkit.Dispatcher) (*otrkit.Kit, error) {
	opts := otrkit.Options{
		Delegate:          d,
		Dispatcher:        dispatcher,
		PrivateKeys:       w.PrivateKeys,
		Fingerprints:      w.Fingerprints,
		InstanceTags:      w.InstanceTags,
		Policy:            w.Config.ParsedPolicy(),
		MaxSizes:          w.Config.MaxSizes(),
		Workers:           w.Config.Pipeline.Workers,
		FragmentRetention: w.Config.FragmentRetention(),
		SMPTimeout:        w.Config.SMPTimeout(),
		Separator:         w.Config.AccountNameSeparator,
		Log:               w.Log,
	}
	if w.Metrics != nil {
		opts.Metrics = w.Metrics
	}
	return otrkit.New(opts)
}

// ServeMetrics exposes /metrics until ctx is done. It returns at once when
// metrics are disabled.
func (w *Wire) ServeMetrics(ctx context.Context) error {
	if w.Metrics == nil {
		return nil
	}
	w.Log.GetLogger("app").Noticef("Serving metrics on %v", w.Config.Metrics.Address)
	return w.Metrics.Serve(ctx, w.Config.Metrics.Address)
}

// Close releases the fingerprint database and the log file.
func (w *Wire) Close() error {
	return errors.Join(w.Fingerprints.Close(), w.Log.Close())
}

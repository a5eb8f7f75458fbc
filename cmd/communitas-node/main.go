// Command communitas-node runs a headless Communitas core: it claims or
// loads an identity, opens the object container, serves deltas to peers
// over QUIC, and runs the tip watcher against any configured bootstrap
// peers. Grounded on cmd/rubin-node's flag/config/signal-context shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/saorsalabs/communitas/internal/commands"
	"github.com/saorsalabs/communitas/internal/config"
	"github.com/saorsalabs/communitas/internal/container"
	"github.com/saorsalabs/communitas/internal/hlc"
	"github.com/saorsalabs/communitas/internal/identity"
	"github.com/saorsalabs/communitas/internal/metrics"
	"github.com/saorsalabs/communitas/internal/secretstore"
	"github.com/saorsalabs/communitas/internal/tipwatcher"
	"github.com/saorsalabs/communitas/internal/transport"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("communitas-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.QUICListenAddr, "quic-listen", defaults.QUICListenAddr, "QUIC delta server listen address")
	fs.StringVar(&cfg.QUICPinnedSPKI, "quic-pinned-spki", defaults.QUICPinnedSPKI, "pinned peer key, e.g. key:hex:<64 hex chars>")
	fs.BoolVar(&cfg.RPKAllowAny, "rpk-allow-any", defaults.RPKAllowAny, "accept any peer raw public key (development only)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.Var(&peers, "peer", "bootstrap peer host:port to pull deltas from (repeatable)")
	words := fs.String("words", "", "four-word identity phrase to claim; reuses the stored identity when empty")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	store := secretstore.NewFileStore(filepath.Join(cfg.DataDir, "secrets.json"))
	id, err := loadOrClaimIdentity(store, *words)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "identity failed: %v\n", err)
		return 2
	}

	master, err := commands.DeriveMasterKey(id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "key derivation failed: %v\n", err)
		return 2
	}
	engine, err := container.Open(cfg, id, master)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "container open failed: %v\n", err)
		return 2
	}
	defer func() { _ = engine.Close() }()

	reg := metrics.New()
	engine.Capacity().SetMetrics(reg)

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	tip := engine.CurrentTip()
	_, _ = fmt.Fprintf(stdout, "identity: %s\n", id.IDHex())
	_, _ = fmt.Fprintf(stdout, "tip: root=%x count=%d\n", tip.Root, tip.Count)

	if *dryRun {
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cert, spki, err := transport.GenerateRawKeyIdentity()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "raw key identity generation failed: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "quic: listen=%s spki=%x\n", cfg.QUICListenAddr, spki)

	go func() {
		if err := transport.ServeWithMetrics(ctx, cfg.QUICListenAddr, cert, engine, reg); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(stderr, "transport serve error: %v\n", err)
		}
	}()

	var pinned [][32]byte
	if cfg.QUICPinnedSPKI != "" {
		key, err := transport.ParsePinnedKey(cfg.QUICPinnedSPKI)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid pinned spki: %v\n", err)
			return 2
		}
		pinned = append(pinned, key)
	}

	watcher := tipwatcher.New(hlc.New(), cfg.TipPollInterval)
	watcher.SetMetrics(reg)
	for _, p := range peers {
		watcher.AddPeer(p)
	}
	syncer := commands.NewDeltaSyncer(engine, pinned, cfg.RPKAllowAny)
	watcher.Start(ctx, engine, syncer)
	defer watcher.Stop()

	_, _ = fmt.Fprintln(stdout, "communitas-node running")
	<-ctx.Done()
	_, _ = fmt.Fprintln(stdout, "communitas-node stopped")
	return 0
}

func loadOrClaimIdentity(store *secretstore.FileStore, phrase string) (identity.Identity, error) {
	if phrase != "" {
		return identity.Claim(store, phrase)
	}
	return identity.Current(store)
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

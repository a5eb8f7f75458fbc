// Command communitas-cli is a human-invoked front end onto the
// Communitas command surface: one cobra subcommand per operation in
// spec.md's command table, each building a commands.Request, dispatching
// it once against a file-backed identity/container, and printing the
// commands.Response as JSON. Grounded in orbas1-Synnergy's
// cmd/synnergy/main.go root-plus-AddCommand tree, with the request/
// response wire shape carried over from cmd/rubin-consensus-cli.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saorsalabs/communitas/internal/commands"
	"github.com/saorsalabs/communitas/internal/config"
	"github.com/saorsalabs/communitas/internal/secretstore"
)

// disp is resolved once per process invocation, in the root command's
// PersistentPreRunE, after flags are parsed.
var disp *commands.Dispatcher

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "communitas-cli",
		Short:         "drive the Communitas object container and replication engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	dataDir := root.PersistentFlags().String("datadir", config.DefaultDataDir(), "node data directory")
	logLevel := root.PersistentFlags().String("log-level", "info", "log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv(config.DefaultConfig())
		cfg.DataDir = *dataDir
		cfg.LogLevel = *logLevel
		return bootstrap(cfg)
	}

	root.AddCommand(identityCmd(), containerCmd(), groupCmd(), syncCmd(), sessionCmd())
	return root
}

// bootstrap opens the Dispatcher against the configured data dir and
// silently attempts container.init, so every command after a prior
// identity.claim can use the container without an explicit init step.
func bootstrap(cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("datadir create failed: %w", err)
	}
	store := secretstore.NewFileStore(filepath.Join(cfg.DataDir, "secrets.json"))
	disp = commands.New(cfg, store)
	disp.Dispatch(context.Background(), commands.Request{Op: "container.init"})
	return nil
}

func emit(w io.Writer, resp commands.Response) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("%s", resp.Err)
	}
	return nil
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "identity", Short: "claim or inspect the local four-word identity"}

	var words string
	claim := &cobra.Command{
		Use:   "claim",
		Short: "claim (or re-load) an identity from a four-word phrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "identity.claim", Words: words}))
		},
	}
	claim.Flags().StringVar(&words, "words", "", "four-word phrase, hyphen- or space-separated")
	_ = claim.MarkFlagRequired("words")

	current := &cobra.Command{
		Use:   "current",
		Short: "print the currently claimed identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "identity.current"}))
		},
	}

	cmd.AddCommand(claim, current)
	return cmd
}

func containerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "container", Short: "put and get objects in the local container"}

	init_ := &cobra.Command{
		Use:   "init",
		Short: "open the container for the current identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "container.init"}))
		},
	}

	var (
		policyKind, namespace, groupID, contentFile string
		memberCount                                 int
	)
	put := &cobra.Command{
		Use:   "put",
		Short: "put an object under a policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(contentFile)
			if err != nil {
				return err
			}
			req := commands.Request{
				Op:          "container.put_object",
				PolicyKind:  policyKind,
				Namespace:   namespace,
				GroupID:     groupID,
				MemberCount: memberCount,
				ContentB64:  base64.StdEncoding.EncodeToString(content),
			}
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), req))
		},
	}
	put.Flags().StringVar(&policyKind, "policy", "private_max", "private_max|private_scoped|group_scoped|public_markdown")
	put.Flags().StringVar(&namespace, "namespace", "", "namespace, for private_scoped")
	put.Flags().StringVar(&groupID, "group-id", "", "group id, for group_scoped")
	put.Flags().IntVar(&memberCount, "member-count", 0, "group member count, for group_scoped")
	put.Flags().StringVar(&contentFile, "file", "", "path to the file to store")
	_ = put.MarkFlagRequired("file")

	var oid string
	get := &cobra.Command{
		Use:   "get",
		Short: "get an object back by oid",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := commands.Request{
				Op:          "container.get_object",
				PolicyKind:  policyKind,
				Namespace:   namespace,
				GroupID:     groupID,
				MemberCount: memberCount,
				OID:         oid,
			}
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), req))
		},
	}
	get.Flags().StringVar(&policyKind, "policy", "private_max", "private_max|private_scoped|group_scoped|public_markdown")
	get.Flags().StringVar(&namespace, "namespace", "", "namespace, for private_scoped")
	get.Flags().StringVar(&groupID, "group-id", "", "group id, for group_scoped")
	get.Flags().IntVar(&memberCount, "member-count", 0, "group member count, for group_scoped")
	get.Flags().StringVar(&oid, "oid", "", "object id (hex)")
	_ = get.MarkFlagRequired("oid")

	tip := &cobra.Command{
		Use:   "tip",
		Short: "print the current op-log tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "container.current_tip"}))
		},
	}

	cmd.AddCommand(init_, put, get, tip)
	return cmd
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "manage four-word group handles"}

	var words string
	create := &cobra.Command{
		Use:  "create",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "group.create", Words: words}))
		},
	}
	create.Flags().StringVar(&words, "words", "", "four-word group phrase")
	_ = create.MarkFlagRequired("words")

	var groupWords, memberWords string
	add := &cobra.Command{
		Use: "add-member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "group.add_member", GroupWords: groupWords, MemberWords: memberWords}))
		},
	}
	remove := &cobra.Command{
		Use: "remove-member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "group.remove_member", GroupWords: groupWords, MemberWords: memberWords}))
		},
	}
	for _, c := range []*cobra.Command{add, remove} {
		c.Flags().StringVar(&groupWords, "group-words", "", "four-word group phrase")
		c.Flags().StringVar(&memberWords, "member-words", "", "four-word member identity phrase")
		_ = c.MarkFlagRequired("group-words")
		_ = c.MarkFlagRequired("member-words")
	}

	cmd.AddCommand(create, add, remove)
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "replication and repair"}

	var intervalMS int64
	start := &cobra.Command{
		Use: "start-watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "sync.start_tip_watcher", IntervalMS: intervalMS}))
		},
	}
	start.Flags().Int64Var(&intervalMS, "interval-ms", 1000, "poll interval in milliseconds")

	stop := &cobra.Command{
		Use: "stop-watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "sync.stop_tip_watcher"}))
		},
	}

	var peerAddr string
	fetch := &cobra.Command{
		Use: "fetch-deltas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "sync.fetch_deltas", PeerAddr: peerAddr}))
		},
	}
	fetch.Flags().StringVar(&peerAddr, "peer", "", "peer host:port")
	_ = fetch.MarkFlagRequired("peer")

	var spki string
	setPin := &cobra.Command{
		Use: "set-pinned-spki",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "sync.set_quic_pinned_spki", PinnedSPKI: spki}))
		},
	}
	setPin.Flags().StringVar(&spki, "spki", "", "pinned peer key, e.g. key:hex:<64 hex chars>")
	_ = setPin.MarkFlagRequired("spki")

	var k, m, outSize int
	var sharesFile string
	repair := &cobra.Command{
		Use:   "repair-fec",
		Short: "reconstruct an object from a JSON array of {index,parity,data_b64} shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(sharesFile)
			if err != nil {
				return err
			}
			var shares []commands.ShareJSON
			if err := json.Unmarshal(raw, &shares); err != nil {
				return fmt.Errorf("decode shares file: %w", err)
			}
			req := commands.Request{Op: "sync.repair_fec", K: k, M: m, OutSize: outSize, Shares: shares}
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), req))
		},
	}
	repair.Flags().IntVar(&k, "k", 0, "data shard count")
	repair.Flags().IntVar(&m, "m", 0, "parity shard count")
	repair.Flags().IntVar(&outSize, "out-size", 0, "original payload size in bytes")
	repair.Flags().StringVar(&sharesFile, "shares-file", "", "path to a JSON array of shares")
	_ = repair.MarkFlagRequired("shares-file")

	cmd.AddCommand(start, stop, fetch, setPin, repair)
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "session-scoped authorization"}

	var userID, identityHandle string
	var perms []string
	create := &cobra.Command{
		Use: "create",
		RunE: func(cmd *cobra.Command, args []string) error {
			granted := make([]commands.PermissionJSON, 0, len(perms))
			for _, p := range perms {
				parts := strings.SplitN(p, ":", 3)
				if len(parts) != 3 {
					return fmt.Errorf("--perm must be resource:action:scope, got %q", p)
				}
				granted = append(granted, commands.PermissionJSON{Resource: parts[0], Action: parts[1], Scope: parts[2]})
			}
			req := commands.Request{Op: "session.create", UserID: userID, IdentityHandle: identityHandle, Permissions: granted}
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), req))
		},
	}
	create.Flags().StringVar(&userID, "user-id", "", "user id")
	create.Flags().StringVar(&identityHandle, "identity", "", "four-word identity handle")
	create.Flags().StringArrayVar(&perms, "perm", nil, "resource:action:scope, repeatable")
	_ = create.MarkFlagRequired("user-id")

	var sessionID string
	validate := &cobra.Command{
		Use: "validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), commands.Request{Op: "session.validate", SessionID: sessionID}))
		},
	}
	validate.Flags().StringVar(&sessionID, "session-id", "", "session id")
	_ = validate.MarkFlagRequired("session-id")

	var resource, action, scope string
	require := &cobra.Command{
		Use: "require-permission",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := commands.Request{Op: "session.require_permission", SessionID: sessionID, Resource: resource, Action: action, Scope: scope}
			return emit(cmd.OutOrStdout(), disp.Dispatch(context.Background(), req))
		},
	}
	require.Flags().StringVar(&sessionID, "session-id", "", "session id")
	require.Flags().StringVar(&resource, "resource", "", "resource name")
	require.Flags().StringVar(&action, "action", "", "action name")
	require.Flags().StringVar(&scope, "scope", "own", "own|shared|all")
	_ = require.MarkFlagRequired("session-id")
	_ = require.MarkFlagRequired("resource")
	_ = require.MarkFlagRequired("action")

	cmd.AddCommand(create, validate, require)
	return cmd
}

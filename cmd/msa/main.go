package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/config"
	"github.com/ogulcanaydogan/milestone-attestation/internal/hash"
	"github.com/ogulcanaydogan/milestone-attestation/internal/log"
	policyyaml "github.com/ogulcanaydogan/milestone-attestation/internal/policy/yaml"
	"github.com/ogulcanaydogan/milestone-attestation/internal/report"
	"github.com/ogulcanaydogan/milestone-attestation/internal/server"
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
	"github.com/ogulcanaydogan/milestone-attestation/internal/store"
	"github.com/ogulcanaydogan/milestone-attestation/internal/verify"
	"github.com/ogulcanaydogan/milestone-attestation/pkg/types"
	"github.com/spf13/cobra"
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var ociPullFunc = store.PullOCI
var ociPublishFunc = store.PublishOCI

type globalOptions struct {
	verbose bool
	logJSON bool
}

func (g *globalOptions) logger(cmd *cobra.Command) *slog.Logger {
	return log.New(log.Options{Verbose: g.verbose, JSONFormat: g.logJSON, Stderr: cmd.ErrOrStderr()})
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "msa",
		Short:         "Milestone verifier attestation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "emit logs as JSON")

	root.AddCommand(newServeCommand(g))
	root.AddCommand(newKeygenCommand())
	root.AddCommand(newPubkeyCommand(g))
	root.AddCommand(newAttestCommand(g))
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newReleaseCommand())
	root.AddCommand(newPublishCommand())
	root.AddCommand(newPullCommand())
	return root
}

func newServeCommand(g *globalOptions) *cobra.Command {
	var cfgPath, listen, keyFile, journalDriver, journalPath string
	var allowEphemeral bool
	var messageVersion int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attestation HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("key-file") {
				cfg.KeyFile = keyFile
			}
			if flags.Changed("allow-ephemeral-key") {
				cfg.AllowEphemeralKey = allowEphemeral
			}
			if flags.Changed("journal-driver") {
				cfg.Journal.Driver = journalDriver
			}
			if flags.Changed("journal-path") {
				cfg.Journal.Path = journalPath
			}
			if flags.Changed("message-version") {
				cfg.MessageVersion = messageVersion
			}
			cfg.Log.Verbose = cfg.Log.Verbose || g.verbose
			cfg.Log.JSON = cfg.Log.JSON || g.logJSON
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := log.New(log.Options{Verbose: cfg.Log.Verbose, JSONFormat: cfg.Log.JSON, Stderr: cmd.ErrOrStderr()})
			km, err := sign.LoadKeyManager(sign.KeySource{
				SecretHex:      cfg.SecretHex,
				KeyFile:        cfg.KeyFile,
				AllowEphemeral: cfg.AllowEphemeralKey,
			}, logger)
			if err != nil {
				return fmt.Errorf("load verifier key (set %s or --key-file): %w", config.EnvSecret, err)
			}
			svc, err := attest.NewService(km, attest.Options{Version: attest.MessageVersion(cfg.MessageVersion)})
			if err != nil {
				return err
			}

			journal, err := store.Open(cfg.Journal.Driver, cfg.Journal.Path)
			switch {
			case errors.Is(err, store.ErrDisabled):
				journal = nil
			case err != nil:
				return fmt.Errorf("open journal: %w", err)
			default:
				defer journal.Close()
				logger.Info("journal enabled", "driver", cfg.Journal.Driver, "path", cfg.Journal.Path)
			}

			srv, err := server.New(cfg, svc, journal, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "service config YAML")
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "verifier key file (hex seed or PKCS#8 PEM)")
	cmd.Flags().BoolVar(&allowEphemeral, "allow-ephemeral-key", false, "generate a throwaway key when none is configured (development only)")
	cmd.Flags().StringVar(&journalDriver, "journal-driver", "none", "attestation journal (none|local|sqlite)")
	cmd.Flags().StringVar(&journalPath, "journal-path", "", "journal directory (local) or database file (sqlite)")
	cmd.Flags().IntVar(&messageVersion, "message-version", 0, "canonical message version (0|1)")
	return cmd
}

func newKeygenCommand() *cobra.Command {
	var outPath string
	var force, asPEM bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a verifier key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			if fileExists(outPath) && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", outPath)
			}
			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return err
				}
			}
			generate := sign.GenerateSecretFile
			if asPEM {
				generate = sign.GeneratePEMFile
			}
			km, err := generate(outPath)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), publicKeyResponse(km))
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "key file to write (mode 0600)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	cmd.Flags().BoolVar(&asPEM, "pem", false, "write a PKCS#8 PEM private key instead of a hex seed")
	return cmd
}

func newPubkeyCommand(g *globalOptions) *cobra.Command {
	var keyFile string
	var asPEM bool
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the configured verifier public key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			km, err := loadCLIKey(keyFile, g.logger(cmd))
			if err != nil {
				return err
			}
			if asPEM {
				out, err := km.PublicKeyPEM()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}
			return writeJSON(cmd.OutOrStdout(), publicKeyResponse(km))
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "verifier key file (defaults to "+config.EnvSecret+")")
	cmd.Flags().BoolVar(&asPEM, "pem", false, "print a PKIX PEM public key")
	return cmd
}

func newAttestCommand(g *globalOptions) *cobra.Command {
	var keyFile, status, milestoneHash, proofHash, milestoneFile, proofFile, metadata, outPath string
	var appID, milestone uint64
	var timestamp int64
	var version int
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign a milestone decision offline and emit an attestation record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := attest.ParseStatus(status)
			if err != nil {
				return err
			}
			var meta json.RawMessage
			if metadata != "" {
				var probe map[string]any
				if err := json.Unmarshal([]byte(metadata), &probe); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
				meta = json.RawMessage(metadata)
			}

			mh, err := contentHash(milestoneHash, milestoneFile)
			if err != nil {
				return err
			}
			ph, err := contentHash(proofHash, proofFile)
			if err != nil {
				return err
			}

			km, err := loadCLIKey(keyFile, g.logger(cmd))
			if err != nil {
				return err
			}
			svc, err := attest.NewService(km, attest.Options{Version: attest.MessageVersion(version)})
			if err != nil {
				return err
			}
			req := attest.Request{
				AppID:          appID,
				MilestoneIndex: milestone,
				Status:         st,
				MilestoneHash:  mh,
				ProofHash:      ph,
			}
			if cmd.Flags().Changed("timestamp") {
				req.Timestamp = &timestamp
			}
			att, err := svc.Create(req)
			if err != nil {
				return err
			}
			rec, err := store.NewRecord(att, meta, time.Now())
			if err != nil {
				return err
			}

			if outPath == "" {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			raw, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, append(raw, '\n'), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "verifier key file (defaults to "+config.EnvSecret+")")
	cmd.Flags().Uint64Var(&appID, "app-id", 0, "application id")
	cmd.Flags().Uint64Var(&milestone, "milestone", 0, "milestone index")
	cmd.Flags().StringVar(&status, "status", "", "decision (PASS|FAIL|PENDING)")
	cmd.Flags().StringVar(&milestoneHash, "milestone-hash", "", "milestone content hash")
	cmd.Flags().StringVar(&proofHash, "proof-hash", "", "proof content hash")
	cmd.Flags().StringVar(&milestoneFile, "milestone-file", "", "hash this file or directory for --milestone-hash")
	cmd.Flags().StringVar(&proofFile, "proof-file", "", "hash this file or directory for --proof-hash")
	cmd.MarkFlagsMutuallyExclusive("milestone-hash", "milestone-file")
	cmd.MarkFlagsMutuallyExclusive("proof-hash", "proof-file")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix seconds (defaults to now)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "opaque JSON object stored with the record")
	cmd.Flags().IntVar(&version, "message-version", 0, "canonical message version (0|1)")
	cmd.Flags().StringVar(&outPath, "out", "", "record output path (defaults to stdout)")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var message, signature, publicKey string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an Ed25519 signature over a canonical message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if message == "" || signature == "" || publicKey == "" {
				return fmt.Errorf("--message, --signature and --public-key are required")
			}
			if !sign.VerifyHex([]byte(message), signature, publicKey) {
				return cliError{code: verify.ExitSignatureFail, err: fmt.Errorf("signature invalid")}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "canonical message")
	cmd.Flags().StringVar(&signature, "signature", "", "hex signature")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "hex public key")
	return cmd
}

func newReleaseCommand() *cobra.Command {
	var inPath, sourceType, policyPath, status, milestoneHash, proofHash, milestoneFile, proofFile, format, outPath string
	var appID, milestone uint64
	var nowUnix int64
	var inspect bool
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Decide whether an attestation authorizes releasing a milestone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" || policyPath == "" {
				return fmt.Errorf("--in and --policy are required")
			}
			if format != "json" && format != "md" {
				return fmt.Errorf("unsupported format %s", format)
			}
			var expected *verify.Expected
			if !inspect {
				mh, err := contentHash(milestoneHash, milestoneFile)
				if err != nil {
					return err
				}
				ph, err := contentHash(proofHash, proofFile)
				if err != nil {
					return err
				}
				flags := cmd.Flags()
				if !flags.Changed("app-id") || !flags.Changed("milestone") || mh == "" {
					return fmt.Errorf("--app-id, --milestone and --milestone-hash are required unless --inspect is set")
				}
				expected = &verify.Expected{
					AppID:          appID,
					MilestoneIndex: milestone,
					MilestoneHash:  mh,
					ProofHash:      ph,
				}
			}

			policy, err := policyyaml.LoadPolicy(policyPath)
			if err != nil {
				return err
			}
			if status != "" {
				st, err := attest.ParseStatus(status)
				if err != nil {
					return err
				}
				policy.RequireStatus = string(st)
			}

			resolved := inPath
			switch sourceType {
			case "local":
			case "oci":
				tmpDir, err := os.MkdirTemp("", "msa-oci-release-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmpDir)
				resolved = filepath.Join(tmpDir, "record.json")
				if err := ociPullFunc(inPath, resolved); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported source %s", sourceType)
			}

			now := time.Now()
			if cmd.Flags().Changed("now") {
				now = time.Unix(nowUnix, 0)
			}
			r := verify.ReleaseFile(resolved, expected, policy, now)
			r.Source = inPath

			if err := writeReport(cmd.OutOrStdout(), format, outPath, r); err != nil {
				return err
			}
			if !r.Passed {
				return cliError{code: r.ExitCode, err: fmt.Errorf("release check failed")}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "attestation or record file, or OCI ref with --source oci")
	cmd.Flags().StringVar(&sourceType, "source", "local", "input source (local|oci)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "release policy YAML")
	cmd.Flags().Uint64Var(&appID, "app-id", 0, "expected application id")
	cmd.Flags().Uint64Var(&milestone, "milestone", 0, "expected milestone index")
	cmd.Flags().StringVar(&milestoneHash, "milestone-hash", "", "expected milestone hash")
	cmd.Flags().StringVar(&proofHash, "proof-hash", "", "expected proof hash")
	cmd.Flags().StringVar(&milestoneFile, "milestone-file", "", "hash this file or directory for --milestone-hash")
	cmd.Flags().StringVar(&proofFile, "proof-file", "", "hash this file or directory for --proof-hash")
	cmd.MarkFlagsMutuallyExclusive("milestone-hash", "milestone-file")
	cmd.MarkFlagsMutuallyExclusive("proof-hash", "proof-file")
	cmd.Flags().StringVar(&status, "status", "", "required status (overrides the policy)")
	cmd.Flags().Int64Var(&nowUnix, "now", 0, "evaluate freshness at this unix time")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "bind against the attestation's own fields")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|md)")
	cmd.Flags().StringVar(&outPath, "out", "", "report output path (defaults to stdout)")
	return cmd
}

func newPublishCommand() *cobra.Command {
	var inPath, ociRef string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an attestation record to OCI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" || ociRef == "" {
				return fmt.Errorf("--in and --oci are required")
			}
			pinned, err := ociPublishFunc(inPath, ociRef)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pinned)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "record path")
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI destination")
	return cmd
}

func newPullCommand() *cobra.Command {
	var ociRef, outPath string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch an attestation record from OCI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ociRef == "" || outPath == "" {
				return fmt.Errorf("--oci and --out are required")
			}
			if err := ociPullFunc(ociRef, outPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI reference")
	cmd.Flags().StringVar(&outPath, "out", "", "output path")
	return cmd
}

// loadCLIKey resolves the key for one-shot commands. Ephemeral keys are
// never allowed here since their signatures could not be checked later.
func loadCLIKey(keyFile string, logger *slog.Logger) (*sign.KeyManager, error) {
	km, err := sign.LoadKeyManager(sign.KeySource{
		SecretHex: os.Getenv(config.EnvSecret),
		KeyFile:   keyFile,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("load verifier key (set %s or --key-file): %w", config.EnvSecret, err)
	}
	return km, nil
}

// contentHash returns explicit unless path is set, in which case the file or
// directory at path is hashed.
func contentHash(explicit, path string) (string, error) {
	if path == "" {
		return explicit, nil
	}
	h, err := hash.ContentHash(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return h, nil
}

func publicKeyResponse(km *sign.KeyManager) types.PublicKeyResponse {
	return types.PublicKeyResponse{
		PublicKey: km.PublicKeyHex(),
		Algorithm: sign.Algorithm,
		KeyID:     km.KeyID(),
	}
}

func writeReport(stdout io.Writer, format, outPath string, r verify.Report) error {
	if outPath != "" {
		var err error
		if format == "md" {
			err = report.WriteMarkdown(outPath, r)
		} else {
			err = report.WriteJSON(outPath, r)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, outPath)
		return nil
	}
	if format == "md" {
		_, err := io.WriteString(stdout, report.BuildMarkdown(r))
		return err
	}
	raw, err := report.BuildJSON(r)
	if err != nil {
		return err
	}
	_, err = stdout.Write(raw)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

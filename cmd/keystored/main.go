// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain.
//
// go-keychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Command keystored wires the keystore-core facade behind a minimal CLI
// and runs it through a scripted lifecycle: user init, key generation,
// a sign operation, and a reset. It implements no RPC transport; its
// job is to exercise the facade with real collaborators end to end.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/automatethethings/keystore-core/internal/config"
	"github.com/automatethethings/keystore-core/pkg/attestation"
	"github.com/automatethethings/keystore-core/pkg/blobstore"
	"github.com/automatethethings/keystore-core/pkg/keymaster"
	"github.com/automatethethings/keystore-core/pkg/keystore"
	"github.com/automatethethings/keystore-core/pkg/logging"
	"github.com/automatethethings/keystore-core/pkg/permission"
	"github.com/automatethethings/keystore-core/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile     string
	workingDir     string
	storageBackend string
	logLevel       string
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystored",
		Short: "Run the keystore-core facade through a scripted demo lifecycle",
		RunE:  runDemo,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a keystored YAML config file")
	cmd.PersistentFlags().StringVar(&workingDir, "working-dir", "", "override storage.working_dir")
	cmd.PersistentFlags().StringVar(&storageBackend, "storage-backend", "", "override storage.backend (file, memory)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	_ = viper.BindPFlag("working_dir", cmd.PersistentFlags().Lookup("working-dir"))
	_ = viper.BindPFlag("storage_backend", cmd.PersistentFlags().Lookup("storage-backend"))
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("KEYSTORED")
	viper.AutomaticEnv()

	return cmd
}

// loadConfig layers internal/config.Load's file+env result under the
// cobra/viper-bound flag overrides, so flags always win.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("working_dir"); v != "" {
		cfg.Storage.WorkingDir = v
	}
	if v := viper.GetString("storage_backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("keystored: %w", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level == "debug")

	var store types.BlobStore
	switch cfg.Storage.Backend {
	case "memory":
		store = blobstore.NewMemoryStore()
	default:
		fileStore, err := blobstore.NewFileStore(cfg.Storage.WorkingDir)
		if err != nil {
			return fmt.Errorf("keystored: opening file store: %w", err)
		}
		store = fileStore
	}

	grantSource, ok := store.(permission.GrantSource)
	if !ok {
		return fmt.Errorf("keystored: storage backend %T does not implement permission.GrantSource", store)
	}
	oracle := permission.NewOracle(grantSource)

	attestationIDs := attestation.NewLocalSource()

	fallback := keymaster.NewSoftwareDevice()

	core, err := keystore.New(keystore.Config{
		// The demo has no hardware-backed device to wire as Primary, so
		// it degrades to the software fallback for both roles. A real
		// deployment supplies a TPM2/PKCS#11/cloud-KMS-backed
		// types.KeymasterDevice here.
		Primary:          fallback,
		Fallback:         fallback,
		Store:            store,
		Permissions:      oracle,
		AttestationIDs:   attestationIDs,
		Logger:           logger,
		SystemAppID:      cfg.Policy.SystemAppID,
		WorkingDir:       cfg.Storage.WorkingDir,
		MaxOperations:    cfg.Policy.MaxOperations,
		IDRotationPeriod: cfg.Policy.IDRotationPeriod,
	})
	if err != nil {
		return fmt.Errorf("keystored: constructing facade: %w", err)
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	return runLifecycleDemo(core, oracle, logger)
}

func serveMetrics(addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // demo binary, not a hardened listener
		logger.Errorf("metrics server stopped: %v", err)
	}
}

const (
	systemUID types.UID = keystore.SystemAppID
	demoUID   types.UID = types.UserIDStride + 1 // user_id 1, app_id 1
)

func runLifecycleDemo(core *keystore.KeyStoreCore, oracle *permission.Oracle, logger *logging.Logger) error {
	if err := oracle.AssignRole(systemUID.AppID(), "admin"); err != nil {
		return fmt.Errorf("assigning system role: %w", err)
	}
	if err := oracle.AssignRole(demoUID.AppID(), "operator"); err != nil {
		return fmt.Errorf("assigning demo role: %w", err)
	}

	if err := core.OnUserAdded(systemUID, demoUID.UserID(), -1); err != nil {
		return fmt.Errorf("onUserAdded: %w", err)
	}
	if err := core.OnUserPasswordChanged(systemUID, demoUID.UserID(), "correct horse battery staple"); err != nil {
		return fmt.Errorf("onUserPasswordChanged: %w", err)
	}

	const alias types.Alias = "demo-signing-key"
	characteristics, err := core.GenerateKey(demoUID, demoUID, alias, keystore.GenerateKeyParams{
		Attrs: types.AuthorizationList{
			{Tag: types.TagAlgorithm, Value: types.AlgorithmEC},
			{Tag: types.TagECCurve, Value: "p-256"},
			{Tag: types.TagPurpose, Value: types.PurposeSign},
		},
	})
	if err != nil {
		return fmt.Errorf("generateKey: %w", err)
	}
	logger.Infof("generated key %q: %+v", alias, characteristics)

	begin, err := core.Begin(demoUID, demoUID, alias, types.PurposeSign, nil, true, "")
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	message := []byte("keystored lifecycle demo payload")
	if _, _, _, err := core.Update(begin.Token, nil, message); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	signature, _, err := core.Finish(begin.Token, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	logger.Infof("signed payload, signature length %d bytes", len(signature))

	if _, err := core.AttestKey(demoUID, demoUID, alias, nil); err != nil {
		logger.Infof("attestKey failed as expected with no hardware-backed primary: %v", err)
	}

	aliases, err := core.List(demoUID, demoUID, "")
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	logger.Infof("user %d owns aliases: %v", demoUID.UserID(), aliases)

	if err := core.Reset(systemUID, demoUID.UserID(), false); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	logger.Infof("lifecycle demo complete")
	return nil
}

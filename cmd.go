/*
Copyright 2023.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/snapp-incubator/s3-manager/internal/apierror"
	"github.com/snapp-incubator/s3-manager/internal/app"
	"github.com/snapp-incubator/s3-manager/internal/config"
	"github.com/snapp-incubator/s3-manager/internal/logging"
)

var (
	configPath    string
	resourcesPath string
	debug         bool
	dryRun        bool

	// loggerReady is set once errors are reported through the logger rather than stderr.
	loggerReady bool
)

var rootCmd = &cobra.Command{
	Use:   "s3-manager",
	Short: "Declarative management of buckets, service accounts and policies on an S3 cluster",
	Long: `s3-manager reconciles the buckets, bucket policies, service accounts, IAM policies
and IAM policy attachments declared in a manifest against a MinIO compatible cluster.
Nothing is ever deleted; resources are created or updated until the cluster matches.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile the manifest against the cluster",
	Long: `Reconcile the manifest against the cluster.

Examples:
  # Apply the manifest named in the configuration
  s3-manager apply --config config.yaml

  # Only check what would be applied
  s3-manager apply --resources resources.yaml --dry-run`,
	RunE: runApply,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the manifest without contacting the cluster",
	RunE:  runValidate,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("s3-manager version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().StringVar(&resourcesPath, "resources", "", "Path to the resources manifest, overrides cluster_resources_file.")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level and stop at the first error.")
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and validate the manifest only.")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(validateCmd)
}

// setup loads the configuration, applies the command line overrides and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, logr.Logger, io.Closer, error) {
	cfg, err := config.GetConfig(configPath)
	if err != nil {
		return nil, logr.Discard(), nil, apierror.Wrap(apierror.KindStructuralConfig, err, "failed to load configuration")
	}
	if cmd.Flags().Changed("resources") {
		cfg.ClusterResourcesFile = resourcesPath
	}
	if debug {
		cfg.Debug = true
	}
	if dryRun {
		cfg.DryRun = true
	}

	logger, closer, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
		File:  cfg.LogFile,
	})
	if err != nil {
		return nil, logr.Discard(), nil, apierror.Wrap(apierror.KindStructuralConfig, err, "invalid logging configuration")
	}
	ctrl.SetLogger(logger)
	loggerReady = true
	return cfg, logger, closer, nil
}

func runApply(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	err = app.New(cfg, logger).Run(ctrl.SetupSignalHandler())
	if err != nil {
		logger.Error(err, "run failed", "exitCode", app.ExitCode(err))
	}
	return err
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	resources, err := app.New(cfg, logger).Parse()
	if err != nil {
		logger.Error(err, "manifest is invalid", "file", cfg.ClusterResourcesFile)
		return err
	}
	logger.Info("manifest is valid",
		"file", cfg.ClusterResourcesFile,
		"buckets", len(resources.Buckets),
		"bucketPolicies", len(resources.BucketPolicies),
		"serviceAccounts", len(resources.ServiceAccounts),
		"iamPolicies", len(resources.IamPolicies),
		"iamPolicyAttachments", len(resources.IamPolicyAttachments))
	return nil
}

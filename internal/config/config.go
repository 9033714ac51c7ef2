package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	koanf "github.com/knadh/koanf/v2"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

type Config struct {
	ClusterName          string `koanf:"cluster_name"`
	S3Endpoint           string `koanf:"s3_endpoint"`
	S3EndpointSecure     bool   `koanf:"s3_endpoint_secure"`
	S3Region             string `koanf:"s3_region"`
	ControllerUser       string `koanf:"minio_controller_user"`
	ClusterResourcesFile string `koanf:"cluster_resources_file"`

	SecretBackendType        string `koanf:"secret_backend_type"`
	SecretBackendPath        string `koanf:"secret_backend_path"`
	SecretBackendS3Bucket    string `koanf:"secret_backend_s3_bucket"`
	SecretBackendS3AccessKey string `koanf:"secret_backend_s3_access_key"`
	SecretBackendS3SecretKey string `koanf:"secret_backend_s3_secret_key"`
	KeepassFilename          string `koanf:"keepass_filename"`
	KeepassPassword          string `koanf:"keepass_password"`
	KeepassGroupRoot         string `koanf:"keepass_group_root"`
	KubernetesNamespace      string `koanf:"secret_backend_kubernetes_namespace"`
	KubernetesSecretName     string `koanf:"secret_backend_kubernetes_name"`

	AutoCreateServiceAccount     bool   `koanf:"auto_create_service_account"`
	AllowedBucketPrefixes        string `koanf:"allowed_bucket_prefixes"`
	DefaultBucketVersioning      string `koanf:"default_bucket_versioning"`
	DefaultLifecyclePolicyFile   string `koanf:"default_lifecycle_policy_file"`
	ServiceAccountPolicyBaseFile string `koanf:"service_account_policy_base_file"`

	DryRun          bool   `koanf:"dry_run"`
	Debug           bool   `koanf:"debug"`
	LogLevel        string `koanf:"log_level"`
	LogFile         string `koanf:"log_file"`
	MetricsTextfile string `koanf:"metrics_textfile"`
}

var (
	DefaultConfig = Config{
		S3EndpointSecure:         true,
		S3Region:                 "us-east-1",
		ClusterResourcesFile:     "resources.yaml",
		SecretBackendS3Bucket:    "minio-manager-secrets",
		KeepassFilename:          "secrets.kdbx",
		KeepassGroupRoot:         "storage",
		KubernetesNamespace:      "default",
		KubernetesSecretName:     "minio-manager-secrets",
		AutoCreateServiceAccount: true,
		DefaultBucketVersioning:  consts.VersioningSuspended,
		LogLevel:                 "INFO",
	}

	ErrMissingSetting = errors.New("required setting is missing")
)

// GetConfig layers the defaults, the optional YAML file at configPath, a config.env file in the
// working directory and finally MINIO_MANAGER_* environment variables.
func GetConfig(configPath string) (*Config, error) {
	k := koanf.New(".")
	parser := yaml.Parser()
	cfg := &Config{}

	if err := k.Load(structs.Provider(DefaultConfig, "koanf"), nil); err != nil {
		return nil, err
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(consts.DotEnvFileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", consts.DotEnvFileName, err)
	}

	if err := k.Load(env.Provider(consts.EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, consts.EnvPrefix))
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings every command that talks to a cluster needs.
func (c *Config) Validate() error {
	required := map[string]string{
		"cluster_name":          c.ClusterName,
		"s3_endpoint":           c.S3Endpoint,
		"minio_controller_user": c.ControllerUser,
		"secret_backend_type":   c.SecretBackendType,
	}
	for _, key := range []string{"cluster_name", "s3_endpoint", "minio_controller_user", "secret_backend_type"} {
		if required[key] == "" {
			return fmt.Errorf("%w: %s (env %s%s)", ErrMissingSetting, key, consts.EnvPrefix, strings.ToUpper(key))
		}
	}
	return nil
}

// BucketPrefixes splits the comma separated allowed_bucket_prefixes setting.
func (c *Config) BucketPrefixes() []string {
	var prefixes []string
	for _, p := range strings.Split(c.AllowedBucketPrefixes, ",") {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

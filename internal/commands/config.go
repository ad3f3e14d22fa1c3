package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	RunE:  runInitConfig,
}

var (
	initOutput string
	initForce  bool
)

func init() {
	initConfigCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "file to write")
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

// runShowConfig prints the effective configuration with secrets masked.
func runShowConfig(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(data)
	return err
}

const defaultConfig = `# gridstore configuration

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false

store:
  driver: memory   # memory, couchdb, sqlite, postgres
  timeout: 30s
  watch_changes: false
  couchdb:
    url: http://localhost:5984
    database: gridstore
    username: admin
    password: password
  sqlite:
    path: ./data/gridstore.db
  postgres:
    dsn: postgres://localhost/gridstore?sslmode=disable

index:
  page_size: 500
  max_networks: 64

logging:
  level: info
  format: json
  output: stdout

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  jwt_secret: change-me-in-production
  jwt_expiration: 24h

# Used by import and export for s3://bucket/key locations
s3:
  region: us-east-1
  endpoint: ""
  path_style: false
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
	}

	if err := os.WriteFile(initOutput, []byte(defaultConfig), 0o600); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", initOutput)
	return nil
}

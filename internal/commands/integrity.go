package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/integrity"
	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
)

var (
	integrityNetwork    string
	integrityKinds      []string
	integrityReferences bool
	integritySchemas    bool
	integrityAuditDir   string
	integrityJSON       bool
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Scan a network for integrity issues",
	Long: `Scan every record of a network for references that do not resolve and
for attributes that break their kind's rules. Nothing is repaired.

Examples:
  gridstore integrity --network 7928181c-7977-4592-ba19-88027e4254e4
  gridstore integrity --network 7928181c-... --kinds loads,generators --json
  gridstore integrity --network 7928181c-... --audit-dir ./audit`,
	RunE: runIntegrity,
}

func init() {
	integrityCmd.Flags().StringVar(&integrityNetwork, "network", "", "network UUID")
	integrityCmd.Flags().StringSliceVar(&integrityKinds, "kinds", nil, "collections to check (empty = all)")
	integrityCmd.Flags().BoolVar(&integrityReferences, "references", true, "check references")
	integrityCmd.Flags().BoolVar(&integritySchemas, "schemas", true, "check attributes against their kind's rules")
	integrityCmd.Flags().StringVar(&integrityAuditDir, "audit-dir", "", "append the scan to a JSONL audit trail in this directory")
	integrityCmd.Flags().BoolVar(&integrityJSON, "json", false, "output the report as JSON")
	_ = integrityCmd.MarkFlagRequired("network") //nolint:errcheck
}

func runIntegrity(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	network, err := uuid.Parse(integrityNetwork)
	if err != nil {
		return fmt.Errorf("invalid network id: %w", err)
	}
	options := integrity.ScanOptions{ScanReferences: integrityReferences, ScanSchemas: integritySchemas}
	for _, raw := range integrityKinds {
		kind, err := models.ParseKind(raw)
		if err != nil {
			return err
		}
		options.Kinds = append(options.Kinds, kind)
	}

	audit, err := integrity.NewAuditLogger(integrity.AuditConfig{
		Enabled: integrityAuditDir != "",
		LogPath: integrityAuditDir,
	})
	if err != nil {
		return err
	}
	defer audit.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer client.Close()

	idx := index.New(network, storage.WithTimeout(client, cfg.Store.Timeout),
		index.WithLogger(logger),
		index.WithPageSize(cfg.Index.PageSize),
	)
	report, err := integrity.NewService(logger, audit).Scan(ctx, idx, options)
	if err != nil {
		return fmt.Errorf("integrity scan failed: %w", err)
	}

	if integrityJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func printReport(report *integrity.ScanReport) {
	fmt.Printf("Network:         %s\n", report.Network)
	fmt.Printf("Timestamp:       %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("Records Scanned: %d\n", report.DocumentsScanned)
	fmt.Printf("Issues Found:    %d\n", report.Summary.TotalIssues)
	fmt.Printf("Health Score:    %d/100\n", report.Summary.HealthScore)
	fmt.Printf("Duration:        %s\n", report.Duration)

	if len(report.IssuesFound) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Issues:")
	for _, issue := range report.IssuesFound {
		fmt.Printf("  [%s] %s %s: %s\n", issue.Severity, issue.DocumentType, issue.DocumentID, issue.Description)
	}
}

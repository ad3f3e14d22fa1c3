// Package integrity reports referential problems in a network's records.
// It detects foreign keys that resolve to nothing (dangling references) and
// records whose attributes no longer validate. Problems are reported, never
// repaired: removing a referenced record does not cascade, so callers decide
// what a dangling reference means to them.
package integrity

import (
	"time"

	"github.com/google/uuid"
)

// IssueType represents the type of integrity issue detected.
type IssueType string

const (
	// IssueTypeInvalidReference indicates a foreign key pointing at a missing record
	IssueTypeInvalidReference IssueType = "invalid_reference"

	// IssueTypeInvalidSchema indicates a record whose attributes fail validation
	IssueTypeInvalidSchema IssueType = "invalid_schema"
)

// Severity represents how critical an issue is.
type Severity string

const (
	// SeverityLow indicates a minor issue that doesn't affect functionality
	SeverityLow Severity = "low"

	// SeverityMedium indicates an issue that may cause problems
	SeverityMedium Severity = "medium"

	// SeverityHigh indicates an issue breaking navigation between records
	SeverityHigh Severity = "high"

	// SeverityCritical indicates a severe issue causing system failure
	SeverityCritical Severity = "critical"
)

// ScanReport contains the results of an integrity scan.
type ScanReport struct {
	// ID uniquely identifies this scan
	ID string `json:"id"`

	// Network is the network that was scanned
	Network uuid.UUID `json:"network"`

	// Timestamp when the scan was performed
	Timestamp time.Time `json:"timestamp"`

	// Duration of the scan
	Duration time.Duration `json:"duration"`

	// DocumentsScanned is the total number of records checked
	DocumentsScanned int `json:"documents_scanned"`

	// IssuesFound contains all detected issues
	IssuesFound []Issue `json:"issues_found"`

	// Summary provides aggregated statistics
	Summary ScanSummary `json:"summary"`
}

// ScanSummary provides aggregated scan statistics.
type ScanSummary struct {
	// TotalIssues is the count of all issues found
	TotalIssues int `json:"total_issues"`

	// ByType breaks down issues by type
	ByType map[IssueType]int `json:"by_type"`

	// BySeverity breaks down issues by severity
	BySeverity map[Severity]int `json:"by_severity"`

	// HealthScore is a 0-100 score indicating network health
	HealthScore int `json:"health_score"`
}

// Issue represents a single integrity problem.
type Issue struct {
	// ID uniquely identifies this issue
	ID string `json:"id"`

	// Type categorizes the issue
	Type IssueType `json:"type"`

	// Severity indicates how critical this issue is
	Severity Severity `json:"severity"`

	// DocumentID is the id of the affected record
	DocumentID string `json:"document_id"`

	// DocumentType is the kind of the affected record (e.g. VOLTAGE_LEVEL)
	DocumentType string `json:"document_type"`

	// Description provides human-readable details
	Description string `json:"description"`

	// Details contains additional structured information
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when this issue was found
	DetectedAt time.Time `json:"detected_at"`
}

// AuditEntry records an integrity operation for auditing.
type AuditEntry struct {
	// ID uniquely identifies this audit entry
	ID string `json:"id"`

	// Timestamp when the operation occurred
	Timestamp time.Time `json:"timestamp"`

	// Type of operation performed
	OperationType string `json:"operation_type"`

	// Network the operation ran against
	Network string `json:"network,omitempty"`

	// ScanID if related to a scan
	ScanID string `json:"scan_id,omitempty"`

	// Success indicates if the operation succeeded
	Success bool `json:"success"`

	// Error message if the operation failed
	Error string `json:"error,omitempty"`

	// Details contains operation-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

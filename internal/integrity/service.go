package integrity

import (
	"context"
	"fmt"
	"slices"
	"time"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/validation"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Service scans network indexes for integrity issues.
type Service struct {
	validator *validation.Validator
	logger    logrus.FieldLogger
	audit     *AuditLogger
}

// NewService creates a scanner. audit may be nil.
func NewService(logger logrus.FieldLogger, audit *AuditLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if audit == nil {
		audit = &AuditLogger{}
	}
	return &Service{
		validator: validation.New(),
		logger:    logger,
		audit:     audit,
	}
}

// ScanOptions configures what to scan for.
type ScanOptions struct {
	// ScanReferences checks that every foreign key resolves
	ScanReferences bool

	// ScanSchemas validates each record against its kind's rules
	ScanSchemas bool

	// Kinds limits the records checked (empty = all). Reference targets are
	// always looked up across every kind.
	Kinds []models.Kind
}

// DefaultScanOptions checks references and schemas of every kind.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{ScanReferences: true, ScanSchemas: true}
}

// Scan runs a default scan of idx.
func Scan(ctx context.Context, idx *index.Index) (*ScanReport, error) {
	return NewService(nil, nil).Scan(ctx, idx, DefaultScanOptions())
}

// Scan loads every kind of the network through idx and reports the issues
// found. Loading goes through the index, so a scan warms the cache.
func (s *Service) Scan(ctx context.Context, idx *index.Index, options ScanOptions) (*ScanReport, error) {
	log := s.logger.WithField("network", idx.Network())
	log.WithField("options", fmt.Sprintf("%+v", options)).Info("Starting integrity scan")

	startTime := time.Now()
	report := &ScanReport{
		ID:          uuid.New().String(),
		Network:     idx.Network(),
		Timestamp:   startTime,
		IssuesFound: []Issue{},
		Summary: ScanSummary{
			ByType:     make(map[IssueType]int),
			BySeverity: make(map[Severity]int),
		},
	}

	records, err := loadAll(ctx, idx)
	if err != nil {
		_ = s.audit.LogFailure(idx.Network(), err)
		return nil, err
	}
	known := make(map[models.Kind]map[string]bool, len(records))
	for kind, resources := range records {
		known[kind] = make(map[string]bool, len(resources))
		for _, r := range resources {
			known[kind][r.ID] = true
		}
	}

	for _, kind := range models.Kinds() {
		if len(options.Kinds) > 0 && !slices.Contains(options.Kinds, kind) {
			continue
		}
		for _, r := range records[kind] {
			report.DocumentsScanned++
			if options.ScanReferences {
				report.IssuesFound = append(report.IssuesFound, checkReferences(r, known)...)
			}
			if options.ScanSchemas {
				report.IssuesFound = append(report.IssuesFound, s.checkSchema(r)...)
			}
		}
	}

	report.Summary.TotalIssues = len(report.IssuesFound)
	for _, issue := range report.IssuesFound {
		report.Summary.ByType[issue.Type]++
		report.Summary.BySeverity[issue.Severity]++
	}
	report.Summary.HealthScore = healthScore(report)
	report.Duration = time.Since(startTime)

	if err := s.audit.LogScan(report); err != nil {
		log.WithError(err).Warn("Failed to write scan audit entry")
	}

	log.WithFields(logrus.Fields{
		"documents": report.DocumentsScanned,
		"issues":    report.Summary.TotalIssues,
		"duration":  report.Duration,
	}).Info("Integrity scan completed")

	return report, nil
}

func loadAll(ctx context.Context, idx *index.Index) (map[models.Kind][]*models.Resource, error) {
	out := make(map[models.Kind][]*models.Resource)
	for _, kind := range models.Kinds() {
		resources, err := idx.All(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s records: %w", kind, err)
		}
		out[kind] = resources
	}
	return out, nil
}

func checkReferences(r *models.Resource, known map[models.Kind]map[string]bool) []Issue {
	var issues []Issue
	for _, ref := range References(r) {
		if ref.ID == "" || exists(known, ref) {
			continue
		}
		target := string(ref.Kind)
		if target == "" {
			target = "equipment"
		}
		issues = append(issues, Issue{
			ID:           uuid.New().String(),
			Type:         IssueTypeInvalidReference,
			Severity:     SeverityHigh,
			DocumentID:   r.ID,
			DocumentType: string(r.Kind),
			Description:  fmt.Sprintf("%s references missing %s %q", ref.Field, target, ref.ID),
			Details: map[string]interface{}{
				"field":       ref.Field,
				"target_kind": string(ref.Kind),
				"target_id":   ref.ID,
			},
			DetectedAt: time.Now(),
		})
	}
	return issues
}

func exists(known map[models.Kind]map[string]bool, ref models.Reference) bool {
	if ref.Kind != "" {
		return known[ref.Kind][ref.ID]
	}
	for _, kind := range models.EquipmentKinds() {
		if known[kind][ref.ID] {
			return true
		}
	}
	return false
}

func (s *Service) checkSchema(r *models.Resource) []Issue {
	result := s.validator.ValidateResource(r)
	if result.Valid {
		return nil
	}
	issues := make([]Issue, 0, len(result.Errors))
	for _, e := range result.Errors {
		issues = append(issues, Issue{
			ID:           uuid.New().String(),
			Type:         IssueTypeInvalidSchema,
			Severity:     SeverityMedium,
			DocumentID:   r.ID,
			DocumentType: string(r.Kind),
			Description:  fmt.Sprintf("%s: %s", e.Field, e.Message),
			Details:      map[string]interface{}{"field": e.Field},
			DetectedAt:   time.Now(),
		})
	}
	return issues
}

// healthScore computes a 0-100 score based on issues found.
func healthScore(report *ScanReport) int {
	score := 100
	for severity, count := range report.Summary.BySeverity {
		switch severity {
		case SeverityCritical:
			score -= count * 20
		case SeverityHigh:
			score -= count * 10
		case SeverityMedium:
			score -= count * 3
		case SeverityLow:
			score -= count
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

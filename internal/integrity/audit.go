package integrity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditConfig controls the scan audit trail.
type AuditConfig struct {
	// Enabled turns audit logging on
	Enabled bool

	// LogPath is the directory receiving the daily JSONL files
	LogPath string
}

// AuditLogger appends one JSON line per integrity operation to a daily file.
type AuditLogger struct {
	config    AuditConfig
	file      *os.File
	mu        sync.Mutex
	buffer    []AuditEntry
	flushSize int
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if !config.Enabled {
		return &AuditLogger{config: config, flushSize: 100}, nil
	}

	if err := os.MkdirAll(config.LogPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(auditFile(config.LogPath, time.Now()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &AuditLogger{
		config:    config,
		file:      file,
		buffer:    make([]AuditEntry, 0, 100),
		flushSize: 100,
	}, nil
}

func auditFile(dir string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("integrity-audit-%s.jsonl", day.Format("2006-01-02")))
}

// LogScan records a scan operation.
func (a *AuditLogger) LogScan(report *ScanReport) error {
	if !a.config.Enabled {
		return nil
	}

	return a.writeEntry(AuditEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		OperationType: "scan",
		Network:       report.Network.String(),
		ScanID:        report.ID,
		Success:       true,
		Details: map[string]interface{}{
			"duration_ms":       report.Duration.Milliseconds(),
			"documents_scanned": report.DocumentsScanned,
			"issues_found":      report.Summary.TotalIssues,
			"health_score":      report.Summary.HealthScore,
		},
	})
}

// LogFailure records a scan that could not complete.
func (a *AuditLogger) LogFailure(network uuid.UUID, err error) error {
	if !a.config.Enabled {
		return nil
	}

	return a.writeEntry(AuditEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		OperationType: "scan",
		Network:       network.String(),
		Success:       false,
		Error:         err.Error(),
	})
}

func (a *AuditLogger) writeEntry(entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer = append(a.buffer, entry)
	if len(a.buffer) >= a.flushSize {
		return a.flushLocked()
	}
	return nil
}

// Flush writes all buffered entries to disk.
func (a *AuditLogger) Flush() error {
	if !a.config.Enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.flushLocked()
}

// flushLocked writes buffered entries (must be called with lock held).
func (a *AuditLogger) flushLocked() error {
	if len(a.buffer) == 0 {
		return nil
	}

	for _, entry := range a.buffer {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		if _, err := fmt.Fprintf(a.file, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
	}

	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	a.buffer = a.buffer[:0]
	return nil
}

// Close flushes remaining entries and closes the file.
func (a *AuditLogger) Close() error {
	if !a.config.Enabled || a.file == nil {
		return nil
	}

	if err := a.Flush(); err != nil {
		return err
	}
	return a.file.Close()
}

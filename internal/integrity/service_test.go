package integrity

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) (*index.Index, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	logger, _ := test.NewNullLogger()
	return index.New(uuid.New(), mem, index.WithLogger(logger)), mem
}

func create(t *testing.T, idx *index.Index, resources ...*models.Resource) {
	t.Helper()
	for _, r := range resources {
		_, err := idx.Create(context.Background(), r)
		require.NoError(t, err)
	}
}

func substation(id string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindSubstation, Attributes: &models.SubstationAttributes{Country: "FR"}}
}

func voltageLevel(id, substationID string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindVoltageLevel, Attributes: &models.VoltageLevelAttributes{
		SubstationID: substationID,
		NominalV:     225,
		TopologyKind: "BUS_BREAKER",
	}}
}

func generator(id, vl, regulated string) *models.Resource {
	attrs := &models.GeneratorAttributes{
		InjectionAttributes: models.InjectionAttributes{VoltageLevelID: vl},
		MaxP:                100,
	}
	if regulated != "" {
		attrs.RegulatingTerminal = &models.TerminalRef{ConnectableID: regulated, Side: "ONE"}
	}
	return &models.Resource{ID: id, Kind: models.KindGenerator, Attributes: attrs}
}

func TestScanHealthyNetwork(t *testing.T) {
	idx, _ := newIndex(t)
	create(t, idx,
		substation("s1"),
		voltageLevel("vl1", "s1"),
		generator("g1", "vl1", ""),
		generator("g2", "vl1", "g1"),
	)

	report, err := Scan(context.Background(), idx)
	require.NoError(t, err)

	assert.Equal(t, idx.Network(), report.Network)
	assert.Equal(t, 4, report.DocumentsScanned)
	assert.Empty(t, report.IssuesFound)
	assert.Equal(t, 100, report.Summary.HealthScore)
}

func TestScanReportsDanglingReferences(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()
	create(t, idx,
		substation("s1"),
		voltageLevel("vl1", "s1"),
		voltageLevel("vl2", "s1"),
		generator("g1", "vl2", "ghost"),
	)
	require.NoError(t, idx.Remove(ctx, models.KindVoltageLevel, "vl2"))

	report, err := Scan(ctx, idx)
	require.NoError(t, err)

	require.Len(t, report.IssuesFound, 2)
	fields := map[string]string{}
	for _, issue := range report.IssuesFound {
		assert.Equal(t, IssueTypeInvalidReference, issue.Type)
		assert.Equal(t, SeverityHigh, issue.Severity)
		assert.Equal(t, "g1", issue.DocumentID)
		assert.Equal(t, "GENERATOR", issue.DocumentType)
		fields[issue.Details["field"].(string)] = issue.Details["target_id"].(string)
	}
	assert.Equal(t, map[string]string{
		"voltageLevelId":                   "vl2",
		"regulatingTerminal.connectableId": "ghost",
	}, fields)
	assert.Equal(t, 2, report.Summary.ByType[IssueTypeInvalidReference])
	assert.Equal(t, 80, report.Summary.HealthScore)
}

func TestScanSlackTerminalExtension(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()
	create(t, idx, substation("s1"), voltageLevel("vl1", "s1"))
	_, err := idx.AddExtension(ctx, models.KindVoltageLevel, "vl1", &models.SlackTerminal{
		Terminal: models.TerminalRef{ConnectableID: "bbs1"},
	})
	require.NoError(t, err)

	report, err := Scan(ctx, idx)
	require.NoError(t, err)
	require.Len(t, report.IssuesFound, 1)
	assert.Equal(t, "extensions.slackTerminal.terminal.connectableId", report.IssuesFound[0].Details["field"])
}

func TestScanSchemaIssues(t *testing.T) {
	idx, mem := newIndex(t)
	ctx := context.Background()
	// written straight to the store, bypassing validation
	bad := voltageLevel("vl1", "s1")
	bad.Attributes.(*models.VoltageLevelAttributes).NominalV = 0
	require.NoError(t, mem.CreateBatch(ctx, idx.Network(), models.KindVoltageLevel, []*models.Resource{bad}))
	create(t, idx, substation("s1"))

	report, err := NewService(nil, nil).Scan(ctx, idx, ScanOptions{ScanSchemas: true})
	require.NoError(t, err)

	require.Len(t, report.IssuesFound, 1)
	assert.Equal(t, IssueTypeInvalidSchema, report.IssuesFound[0].Type)
	assert.Equal(t, SeverityMedium, report.IssuesFound[0].Severity)
	assert.Equal(t, 97, report.Summary.HealthScore)
}

func TestScanKindFilter(t *testing.T) {
	idx, _ := newIndex(t)
	create(t, idx, voltageLevel("vl1", "nowhere"), generator("g1", "vl1", "ghost"))

	report, err := NewService(nil, nil).Scan(context.Background(), idx, ScanOptions{
		ScanReferences: true,
		Kinds:          []models.Kind{models.KindVoltageLevel},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.DocumentsScanned)
	require.Len(t, report.IssuesFound, 1)
	assert.Equal(t, "vl1", report.IssuesFound[0].DocumentID)
}

func TestScanStoreFailure(t *testing.T) {
	idx, mem := newIndex(t)
	mem.SetHook(func(ctx context.Context, op storage.Op, kind models.Kind) error {
		return models.Unavailable(string(op), assert.AnError)
	})

	_, err := Scan(context.Background(), idx)
	assert.ErrorIs(t, err, models.ErrBackingStoreUnavailable)
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name       string
		bySeverity map[Severity]int
		want       int
	}{
		{"clean", map[Severity]int{}, 100},
		{"mixed", map[Severity]int{SeverityHigh: 2, SeverityMedium: 1, SeverityLow: 4}, 73},
		{"floor", map[Severity]int{SeverityCritical: 6}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &ScanReport{Summary: ScanSummary{BySeverity: tt.bySeverity}}
			assert.Equal(t, tt.want, healthScore(report))
		})
	}
}

func TestResolve(t *testing.T) {
	idx, _ := newIndex(t)
	ctx := context.Background()
	create(t, idx, substation("s1"), voltageLevel("vl1", "s1"), generator("g1", "vl1", ""))
	owner := generator("g2", "vl1", "g1")

	got, err := Resolve(ctx, idx, owner, models.Reference{Field: "voltageLevelId", Kind: models.KindVoltageLevel, ID: "vl1"})
	require.NoError(t, err)
	assert.Equal(t, "vl1", got.ID)

	got, err = Resolve(ctx, idx, owner, models.Reference{Field: "regulatingTerminal.connectableId", ID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, models.KindGenerator, got.Kind)

	_, err = Resolve(ctx, idx, owner, models.Reference{Field: "regulatingTerminal.connectableId", ID: "ghost"})
	assert.ErrorIs(t, err, models.ErrInconsistent)
	assert.Contains(t, err.Error(), "ghost")

	_, err = Resolve(ctx, idx, owner, models.Reference{Field: "voltageLevelId", Kind: models.KindVoltageLevel})
	assert.ErrorIs(t, err, models.ErrInconsistent)
}

func TestAuditLoggerWritesScans(t *testing.T) {
	dir := t.TempDir()
	audit, err := NewAuditLogger(AuditConfig{Enabled: true, LogPath: dir})
	require.NoError(t, err)

	idx, _ := newIndex(t)
	logger, _ := test.NewNullLogger()
	_, err = NewService(logger, audit).Scan(context.Background(), idx, DefaultScanOptions())
	require.NoError(t, err)
	require.NoError(t, audit.Close())

	f, err := os.Open(filepath.Join(dir, "integrity-audit-"+time.Now().Format("2006-01-02")+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 1)
	assert.Equal(t, "scan", entries[0].OperationType)
	assert.Equal(t, idx.Network().String(), entries[0].Network)
	assert.True(t, entries[0].Success)
}

func TestDisabledAuditLogger(t *testing.T) {
	audit, err := NewAuditLogger(AuditConfig{})
	require.NoError(t, err)
	assert.NoError(t, audit.LogScan(&ScanReport{}))
	assert.NoError(t, audit.Close())
}

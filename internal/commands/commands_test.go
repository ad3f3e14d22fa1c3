package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/gridstore/internal/config"
	"evalgo.org/gridstore/internal/grid"
	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/internal/storage"
	"evalgo.org/gridstore/models"
)

const sampleDump = `
network:
  caseDate: 2024-01-15T10:00:00Z
  sourceFormat: UCTE
resources:
  voltage-levels:
    - id: baz
      attributes: {substationId: bar, nominalV: 400, topologyKind: NODE_BREAKER}
  substations:
    - id: bar
      attributes: {country: FR, tso: RTE}
      extensions:
        entsoeArea: {code: D7}
  loads:
    - id: l1
      attributes: {voltageLevelId: baz, p0: 10, q0: 2}
`

func TestReadDump(t *testing.T) {
	d, err := readDump(strings.NewReader(sampleDump))
	require.NoError(t, err)

	require.NotNil(t, d.Network)
	assert.Equal(t, "UCTE", d.Network.SourceFormat)
	assert.Equal(t, 2024, d.Network.CaseDate.Year())

	require.Len(t, d.Resources[models.KindSubstation], 1)
	bar := d.Resources[models.KindSubstation][0]
	assert.Equal(t, "bar", bar.ID)
	assert.Equal(t, "RTE", bar.Attributes.(*models.SubstationAttributes).TSO)
	_, ok := bar.Extension(models.ExtensionEntsoeArea)
	assert.True(t, ok)

	require.Len(t, d.Resources[models.KindLoad], 1)
	assert.Equal(t, 10.0, d.Resources[models.KindLoad][0].Attributes.(*models.LoadAttributes).P0)
}

func TestReadDumpErrors(t *testing.T) {
	tests := []struct {
		name string
		dump string
	}{
		{"unknown collection", "resources:\n  widgets:\n    - id: w1\n"},
		{"unknown type", "resources:\n  loads:\n    - id: l1\n      type: WIDGET\n"},
		{"malformed yaml", "resources: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readDump(strings.NewReader(tt.dump))
			assert.Error(t, err)
		})
	}
}

func TestImportDump(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	mem := storage.NewMemory()
	idx := index.New(uuid.New(), mem, index.WithLogger(logger))

	d, err := readDump(strings.NewReader(sampleDump))
	require.NoError(t, err)

	counts, err := importDump(ctx, idx, d)
	require.NoError(t, err)
	assert.Equal(t, map[models.Kind]int{
		models.KindSubstation:   1,
		models.KindVoltageLevel: 1,
		models.KindLoad:         1,
	}, counts)

	n, err := grid.OpenNetwork(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, "UCTE", n.SourceFormat())

	fresh := index.New(idx.Network(), mem, index.WithLogger(logger))
	vls, err := fresh.Children(ctx, "bar", models.KindVoltageLevel)
	require.NoError(t, err)
	require.Len(t, vls, 1)
	assert.Equal(t, "baz", vls[0].ID)

	// a second import of the same records collides
	_, err = importDump(ctx, idx, d)
	assert.ErrorIs(t, err, models.ErrDuplicateID)
}

func TestExportDump(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	mem := storage.NewMemory()
	src := index.New(uuid.New(), mem, index.WithLogger(logger))

	d, err := readDump(strings.NewReader(sampleDump))
	require.NoError(t, err)
	_, err = importDump(ctx, src, d)
	require.NoError(t, err)

	var buf bytes.Buffer
	counts, err := exportDump(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.KindLoad])
	assert.NotContains(t, buf.String(), src.Network().String())

	// the export imports back as a second network of the same store
	again, err := readDump(&buf)
	require.NoError(t, err)
	dst := index.New(uuid.New(), mem, index.WithLogger(logger))
	_, err = importDump(ctx, dst, again)
	require.NoError(t, err)

	n, err := grid.OpenNetwork(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "UCTE", n.SourceFormat())

	bar, err := dst.Get(ctx, models.KindSubstation, "bar")
	require.NoError(t, err)
	assert.Equal(t, "RTE", bar.Attributes.(*models.SubstationAttributes).TSO)
	_, ok := bar.Extension(models.ExtensionEntsoeArea)
	assert.True(t, ok)

	loads, err := dst.Children(ctx, "baz", models.KindLoad)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, 10.0, loads[0].Attributes.(*models.LoadAttributes).P0)
}

func TestExportDumpUnknownNetwork(t *testing.T) {
	idx := index.New(uuid.New(), storage.NewMemory())
	_, err := exportDump(context.Background(), idx, io.Discard)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type fakeWatcher struct {
	changes []storage.Change
}

func (f *fakeWatcher) Watch(ctx context.Context, handler storage.ChangeHandler) error {
	for _, c := range f.changes {
		handler(c)
	}
	return nil
}

func TestWatchChanges(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	mem := storage.NewMemory()
	registry, err := index.NewRegistry(mem, 4, logger, nil)
	require.NoError(t, err)

	network := uuid.New()
	idx := registry.Index(network)
	_, err = idx.Create(ctx, &models.Resource{
		ID:         "bar",
		Kind:       models.KindSubstation,
		Attributes: &models.SubstationAttributes{Country: "FR"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, idx.Stats().Records)

	w := &fakeWatcher{changes: []storage.Change{
		{Network: network, Kind: models.KindSubstation, ID: "bar"},
		{Network: uuid.New(), Kind: models.KindSubstation, ID: "other"},
	}}
	require.NoError(t, watchChanges(ctx, w, registry, logger))

	assert.Zero(t, idx.Stats().Records)
}

func TestWatchChangesShowsRecordCreatedOutOfBand(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	mem := storage.NewMemory()
	registry, err := index.NewRegistry(mem, 4, logger, nil)
	require.NoError(t, err)

	network := uuid.New()
	idx := registry.Index(network)
	_, err = idx.Create(ctx, &models.Resource{ID: "bar", Kind: models.KindSubstation, Attributes: &models.SubstationAttributes{Country: "FR"}})
	require.NoError(t, err)
	all, err := idx.All(ctx, models.KindSubstation)
	require.NoError(t, err)
	require.Len(t, all, 1)

	// a second process writes straight to the shared store
	require.NoError(t, mem.CreateBatch(ctx, network, models.KindSubstation, []*models.Resource{
		{ID: "bar2", Kind: models.KindSubstation, Attributes: &models.SubstationAttributes{Country: "BE"}},
	}))

	w := &fakeWatcher{changes: []storage.Change{{Network: network, Kind: models.KindSubstation, ID: "bar2"}}}
	require.NoError(t, watchChanges(ctx, w, registry, logger))

	got, err := idx.Get(ctx, models.KindSubstation, "bar2")
	require.NoError(t, err)
	assert.Equal(t, "BE", got.Attributes.(*models.SubstationAttributes).Country)

	all, err = idx.All(ctx, models.KindSubstation)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestValidateRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/validate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"valid":false,"errors":[{"field":"attributes.country","message":"must be a valid ISO 3166-1 alpha-2 country code"}]}`))
	}))
	defer srv.Close()

	result, err := validateRemote(srv.URL, "secret", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)

	var out bytes.Buffer
	assert.Error(t, printValidation(&out, result))
	assert.Contains(t, out.String(), "attributes.country")
}

func TestValidateRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := validateRemote(srv.URL, "", []byte(`{}`))
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gridstore.yaml")
	initOutput, initForce = path, false
	t.Cleanup(func() { initOutput, initForce = "config.yaml", false })

	var out bytes.Buffer
	initConfigCmd.SetOut(&out)
	require.NoError(t, runInitConfig(initConfigCmd, nil))
	assert.Contains(t, out.String(), path)

	// refuses to overwrite unless forced
	assert.Error(t, runInitConfig(initConfigCmd, nil))
	initForce = true
	require.NoError(t, runInitConfig(initConfigCmd, nil))

	// the written file is a valid configuration
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, loaded.Store.Driver)
	assert.Equal(t, 500, loaded.Index.PageSize)

	prev := cfg
	cfg = loaded
	t.Cleanup(func() { cfg = prev })

	out.Reset()
	showConfigCmd.SetOut(&out)
	require.NoError(t, runShowConfig(showConfigCmd, nil))
	assert.Contains(t, out.String(), "page_size: 500")
	assert.Contains(t, out.String(), "driver: memory")
	assert.NotContains(t, out.String(), "change-me-in-production")
}

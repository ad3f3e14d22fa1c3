package storage

import (
	"context"
	"testing"

	"evalgo.org/gridstore/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voltageLevel(id, substation string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindVoltageLevel, Attributes: &models.VoltageLevelAttributes{
		SubstationID: substation,
		NominalV:     380,
		TopologyKind: "BUS_BREAKER",
	}}
}

func line(id, vl1, vl2 string) *models.Resource {
	return &models.Resource{ID: id, Kind: models.KindLine, Attributes: &models.LineAttributes{
		VoltageLevelID1: vl1,
		VoltageLevelID2: vl2,
		R:               1,
		X:               3,
	}}
}

func ids(resources []*models.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID)
	}
	return out
}

// testClientContract exercises the behavior every driver must share.
func testClientContract(t *testing.T, c Client) {
	ctx := context.Background()
	network := uuid.New()
	other := uuid.New()

	t.Run("create and fetch one", func(t *testing.T) {
		require.NoError(t, c.CreateBatch(ctx, network, models.KindVoltageLevel, []*models.Resource{
			voltageLevel("vl1", "s1"),
			voltageLevel("vl2", "s1"),
			voltageLevel("vl3", "s2"),
		}))

		got, err := c.FetchOne(ctx, network, models.KindVoltageLevel, "vl2")
		require.NoError(t, err)
		assert.Equal(t, "vl2", got.ID)
		assert.Equal(t, "s1", got.Attributes.(*models.VoltageLevelAttributes).SubstationID)
	})

	t.Run("fetch one is network scoped", func(t *testing.T) {
		_, err := c.FetchOne(ctx, other, models.KindVoltageLevel, "vl2")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("fetch many keeps creation order", func(t *testing.T) {
		page, err := c.FetchMany(ctx, network, models.KindVoltageLevel, Query{})
		require.NoError(t, err)
		assert.Equal(t, 3, page.TotalCount)
		assert.Equal(t, []string{"vl1", "vl2", "vl3"}, ids(page.Resources))
	})

	t.Run("fetch many filters by container", func(t *testing.T) {
		page, err := c.FetchMany(ctx, network, models.KindVoltageLevel, Query{ContainerID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalCount)
		assert.Equal(t, []string{"vl1", "vl2"}, ids(page.Resources))

		page, err = c.FetchMany(ctx, network, models.KindVoltageLevel, Query{ContainerID: "nope"})
		require.NoError(t, err)
		assert.Equal(t, 0, page.TotalCount)
		assert.Empty(t, page.Resources)
	})

	t.Run("fetch many pages", func(t *testing.T) {
		page, err := c.FetchMany(ctx, network, models.KindVoltageLevel, Query{Offset: 1, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, page.TotalCount)
		assert.Equal(t, []string{"vl2"}, ids(page.Resources))

		page, err = c.FetchMany(ctx, network, models.KindVoltageLevel, Query{Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"vl3"}, ids(page.Resources))
	})

	t.Run("create batch is all or nothing", func(t *testing.T) {
		err := c.CreateBatch(ctx, network, models.KindVoltageLevel, []*models.Resource{
			voltageLevel("vl4", "s2"),
			voltageLevel("vl1", "s2"),
		})
		assert.ErrorIs(t, err, models.ErrDuplicateID)

		_, err = c.FetchOne(ctx, network, models.KindVoltageLevel, "vl4")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("update batch is all or nothing", func(t *testing.T) {
		moved := voltageLevel("vl1", "s2")
		err := c.UpdateBatch(ctx, network, models.KindVoltageLevel, []*models.Resource{moved, voltageLevel("ghost", "s2")})
		assert.ErrorIs(t, err, models.ErrNotFound)

		got, err := c.FetchOne(ctx, network, models.KindVoltageLevel, "vl1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.Attributes.(*models.VoltageLevelAttributes).SubstationID)
	})

	t.Run("update moves container membership and keeps order", func(t *testing.T) {
		require.NoError(t, c.UpdateBatch(ctx, network, models.KindVoltageLevel, []*models.Resource{voltageLevel("vl1", "s2")}))

		page, err := c.FetchMany(ctx, network, models.KindVoltageLevel, Query{ContainerID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"vl2"}, ids(page.Resources))

		page, err = c.FetchMany(ctx, network, models.KindVoltageLevel, Query{ContainerID: "s2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"vl1", "vl3"}, ids(page.Resources))
	})

	t.Run("line belongs to both voltage levels", func(t *testing.T) {
		require.NoError(t, c.CreateBatch(ctx, network, models.KindLine, []*models.Resource{line("p1", "vl1", "vl2")}))

		for _, vl := range []string{"vl1", "vl2"} {
			page, err := c.FetchMany(ctx, network, models.KindLine, Query{ContainerID: vl})
			require.NoError(t, err)
			assert.Equal(t, []string{"p1"}, ids(page.Resources))
		}
	})

	t.Run("extensions travel with the owner", func(t *testing.T) {
		sub := &models.Resource{ID: "bar", Kind: models.KindSubstation, Attributes: &models.SubstationAttributes{Country: "FR", TSO: "RTE"}}
		require.NoError(t, sub.SetExtension(&models.EntsoeArea{Code: "D7"}))
		require.NoError(t, c.CreateBatch(ctx, network, models.KindSubstation, []*models.Resource{sub}))

		got, err := c.FetchOne(ctx, network, models.KindSubstation, "bar")
		require.NoError(t, err)
		ext, ok := got.Extension(models.ExtensionEntsoeArea)
		require.True(t, ok)
		assert.Equal(t, "D7", ext.(*models.EntsoeArea).Code)
	})

	t.Run("delete one", func(t *testing.T) {
		require.NoError(t, c.DeleteOne(ctx, network, models.KindVoltageLevel, "vl3"))
		_, err := c.FetchOne(ctx, network, models.KindVoltageLevel, "vl3")
		assert.ErrorIs(t, err, models.ErrNotFound)

		page, err := c.FetchMany(ctx, network, models.KindVoltageLevel, Query{ContainerID: "s2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"vl1"}, ids(page.Resources))

		assert.ErrorIs(t, c.DeleteOne(ctx, network, models.KindVoltageLevel, "vl3"), models.ErrNotFound)
	})

	t.Run("networks", func(t *testing.T) {
		net := &models.Resource{ID: network.String(), Kind: models.KindNetwork, Attributes: &models.NetworkAttributes{UUID: network}}
		require.NoError(t, c.CreateBatch(ctx, network, models.KindNetwork, []*models.Resource{net}))

		nets, err := c.ListNetworks(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids(nets), network.String())

		require.NoError(t, c.DeleteNetwork(ctx, network))
		_, err = c.FetchOne(ctx, network, models.KindSubstation, "bar")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, c.DeleteNetwork(ctx, network), models.ErrNotFound)
	})
}

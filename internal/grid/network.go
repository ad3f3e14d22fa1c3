package grid

import (
	"context"
	"time"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// Network is the root of a network's records.
type Network struct {
	object[*models.NetworkAttributes]
}

// OpenNetwork reads the NETWORK record of idx.
func OpenNetwork(ctx context.Context, idx *index.Index) (*Network, error) {
	res, err := idx.Get(ctx, models.KindNetwork, idx.Network().String())
	if err != nil {
		return nil, err
	}
	return &Network{object[*models.NetworkAttributes]{idx, res}}, nil
}

// CreateNetwork creates the NETWORK record of idx. The uuid attribute is
// forced to the index's network id.
func CreateNetwork(ctx context.Context, idx *index.Index, attrs *models.NetworkAttributes) (*Network, error) {
	if attrs == nil {
		attrs = &models.NetworkAttributes{}
	}
	a := attrs.Clone().(*models.NetworkAttributes)
	a.UUID = idx.Network()
	res, err := create(ctx, idx, models.KindNetwork, idx.Network().String(), a)
	if err != nil {
		return nil, err
	}
	return &Network{object[*models.NetworkAttributes]{idx, res}}, nil
}

// CaseDate returns the date of the network case.
func (n *Network) CaseDate() time.Time { return n.attrs().CaseDate }

// SetCaseDate changes the date of the network case.
func (n *Network) SetCaseDate(ctx context.Context, date time.Time) error {
	return n.update(ctx, func(a *models.NetworkAttributes) { a.CaseDate = date })
}

// ForecastDistance returns the forecast horizon in minutes.
func (n *Network) ForecastDistance() int { return n.attrs().ForecastDistance }

// SourceFormat returns the format the network was imported from.
func (n *Network) SourceFormat() string { return n.attrs().SourceFormat }

// Substations returns every substation of the network.
func (n *Network) Substations(ctx context.Context) ([]*Substation, error) {
	res, err := n.idx.All(ctx, models.KindSubstation)
	if err != nil {
		return nil, err
	}
	return wrap(n.idx, res, newSubstation), nil
}

// Substation returns the substation id.
func (n *Network) Substation(ctx context.Context, id string) (*Substation, error) {
	res, err := n.idx.Get(ctx, models.KindSubstation, id)
	if err != nil {
		return nil, err
	}
	return newSubstation(n.idx, res), nil
}

// NewSubstation creates a substation. An empty id is generated.
func (n *Network) NewSubstation(ctx context.Context, id string, attrs *models.SubstationAttributes) (*Substation, error) {
	if attrs == nil {
		attrs = &models.SubstationAttributes{}
	}
	res, err := create(ctx, n.idx, models.KindSubstation, id, attrs)
	if err != nil {
		return nil, err
	}
	return newSubstation(n.idx, res), nil
}

// VoltageLevels returns every voltage level of the network.
func (n *Network) VoltageLevels(ctx context.Context) ([]*VoltageLevel, error) {
	res, err := n.idx.All(ctx, models.KindVoltageLevel)
	if err != nil {
		return nil, err
	}
	return wrap(n.idx, res, newVoltageLevel), nil
}

// VoltageLevel returns the voltage level id.
func (n *Network) VoltageLevel(ctx context.Context, id string) (*VoltageLevel, error) {
	res, err := n.idx.Get(ctx, models.KindVoltageLevel, id)
	if err != nil {
		return nil, err
	}
	return newVoltageLevel(n.idx, res), nil
}

// Lines returns every line of the network.
func (n *Network) Lines(ctx context.Context) ([]*Line, error) {
	res, err := n.idx.All(ctx, models.KindLine)
	if err != nil {
		return nil, err
	}
	return wrap(n.idx, res, newLine), nil
}

// Switch returns the switch id.
func (n *Network) Switch(ctx context.Context, id string) (*Switch, error) {
	res, err := n.idx.Get(ctx, models.KindSwitch, id)
	if err != nil {
		return nil, err
	}
	return newSwitch(n.idx, res), nil
}

// Generator returns the generator id.
func (n *Network) Generator(ctx context.Context, id string) (*Generator, error) {
	res, err := n.idx.Get(ctx, models.KindGenerator, id)
	if err != nil {
		return nil, err
	}
	return newGenerator(n.idx, res), nil
}

// Load returns the load id.
func (n *Network) Load(ctx context.Context, id string) (*Load, error) {
	res, err := n.idx.Get(ctx, models.KindLoad, id)
	if err != nil {
		return nil, err
	}
	return newLoad(n.idx, res), nil
}

// Line returns the line id.
func (n *Network) Line(ctx context.Context, id string) (*Line, error) {
	res, err := n.idx.Get(ctx, models.KindLine, id)
	if err != nil {
		return nil, err
	}
	return newLine(n.idx, res), nil
}

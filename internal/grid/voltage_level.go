package grid

import (
	"context"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// VoltageLevel holds the equipment of one nominal voltage in a substation.
type VoltageLevel struct {
	object[*models.VoltageLevelAttributes]
}

func newVoltageLevel(idx *index.Index, res *models.Resource) *VoltageLevel {
	return &VoltageLevel{object[*models.VoltageLevelAttributes]{idx, res}}
}

// NominalV returns the nominal voltage in kV.
func (v *VoltageLevel) NominalV() float64 { return v.attrs().NominalV }

// SetNominalV changes the nominal voltage.
func (v *VoltageLevel) SetNominalV(ctx context.Context, kv float64) error {
	return v.update(ctx, func(a *models.VoltageLevelAttributes) { a.NominalV = kv })
}

// LowVoltageLimit returns the low voltage limit in kV, 0 when unset.
func (v *VoltageLevel) LowVoltageLimit() float64 { return v.attrs().LowVoltageLimit }

// HighVoltageLimit returns the high voltage limit in kV, 0 when unset.
func (v *VoltageLevel) HighVoltageLimit() float64 { return v.attrs().HighVoltageLimit }

// SetVoltageLimits changes both limits at once.
func (v *VoltageLevel) SetVoltageLimits(ctx context.Context, low, high float64) error {
	return v.update(ctx, func(a *models.VoltageLevelAttributes) {
		a.LowVoltageLimit = low
		a.HighVoltageLimit = high
	})
}

// TopologyKind returns NODE_BREAKER or BUS_BREAKER.
func (v *VoltageLevel) TopologyKind() string { return v.attrs().TopologyKind }

// Substation returns the containing substation. A substation that no longer
// exists yields models.ErrInconsistent.
func (v *VoltageLevel) Substation(ctx context.Context) (*Substation, error) {
	res, err := v.follow(ctx, "substationId")
	if err != nil {
		return nil, err
	}
	return newSubstation(v.idx, res), nil
}

// SlackTerminal returns the slack terminal extension, or models.ErrNotFound.
func (v *VoltageLevel) SlackTerminal() (*models.SlackTerminal, error) {
	ext, err := v.Extension(models.ExtensionSlackTerminal)
	if err != nil {
		return nil, err
	}
	return ext.(*models.SlackTerminal), nil
}

// SetSlackTerminal attaches or replaces the slack terminal extension.
func (v *VoltageLevel) SetSlackTerminal(ctx context.Context, terminal models.TerminalRef) error {
	return v.AddExtension(ctx, &models.SlackTerminal{Terminal: terminal})
}

// Switches returns the switches of the voltage level.
func (v *VoltageLevel) Switches(ctx context.Context) ([]*Switch, error) {
	res, err := v.idx.Children(ctx, v.ID(), models.KindSwitch)
	if err != nil {
		return nil, err
	}
	return wrap(v.idx, res, newSwitch), nil
}

// BusbarSections returns the busbar sections of the voltage level.
func (v *VoltageLevel) BusbarSections(ctx context.Context) ([]*BusbarSection, error) {
	res, err := v.idx.Children(ctx, v.ID(), models.KindBusbarSection)
	if err != nil {
		return nil, err
	}
	return wrap(v.idx, res, newBusbarSection), nil
}

// Loads returns the loads of the voltage level.
func (v *VoltageLevel) Loads(ctx context.Context) ([]*Load, error) {
	res, err := v.idx.Children(ctx, v.ID(), models.KindLoad)
	if err != nil {
		return nil, err
	}
	return wrap(v.idx, res, newLoad), nil
}

// Generators returns the generators of the voltage level.
func (v *VoltageLevel) Generators(ctx context.Context) ([]*Generator, error) {
	res, err := v.idx.Children(ctx, v.ID(), models.KindGenerator)
	if err != nil {
		return nil, err
	}
	return wrap(v.idx, res, newGenerator), nil
}

// Lines returns the lines with either side in the voltage level.
func (v *VoltageLevel) Lines(ctx context.Context) ([]*Line, error) {
	res, err := v.idx.Children(ctx, v.ID(), models.KindLine)
	if err != nil {
		return nil, err
	}
	return wrap(v.idx, res, newLine), nil
}

// ConnectableCount returns the number of equipment records held by the
// voltage level, every kind included.
func (v *VoltageLevel) ConnectableCount(ctx context.Context) (int, error) {
	n := 0
	for _, kind := range models.EquipmentKinds() {
		res, err := v.idx.Children(ctx, v.ID(), kind)
		if err != nil {
			return 0, err
		}
		n += len(res)
	}
	return n, nil
}

// NewSwitch creates a switch in the voltage level.
func (v *VoltageLevel) NewSwitch(ctx context.Context, id string, attrs *models.SwitchAttributes) (*Switch, error) {
	if attrs == nil {
		attrs = &models.SwitchAttributes{}
	}
	a := attrs.Clone().(*models.SwitchAttributes)
	a.VoltageLevelID = v.ID()
	res, err := create(ctx, v.idx, models.KindSwitch, id, a)
	if err != nil {
		return nil, err
	}
	return newSwitch(v.idx, res), nil
}

// NewBusbarSection creates a busbar section in the voltage level.
func (v *VoltageLevel) NewBusbarSection(ctx context.Context, id string, attrs *models.BusbarSectionAttributes) (*BusbarSection, error) {
	if attrs == nil {
		attrs = &models.BusbarSectionAttributes{}
	}
	a := attrs.Clone().(*models.BusbarSectionAttributes)
	a.VoltageLevelID = v.ID()
	res, err := create(ctx, v.idx, models.KindBusbarSection, id, a)
	if err != nil {
		return nil, err
	}
	return newBusbarSection(v.idx, res), nil
}

// NewLoad creates a load in the voltage level.
func (v *VoltageLevel) NewLoad(ctx context.Context, id string, attrs *models.LoadAttributes) (*Load, error) {
	if attrs == nil {
		attrs = &models.LoadAttributes{}
	}
	a := attrs.Clone().(*models.LoadAttributes)
	a.VoltageLevelID = v.ID()
	res, err := create(ctx, v.idx, models.KindLoad, id, a)
	if err != nil {
		return nil, err
	}
	return newLoad(v.idx, res), nil
}

// NewGenerator creates a generator in the voltage level.
func (v *VoltageLevel) NewGenerator(ctx context.Context, id string, attrs *models.GeneratorAttributes) (*Generator, error) {
	if attrs == nil {
		attrs = &models.GeneratorAttributes{}
	}
	a := attrs.Clone().(*models.GeneratorAttributes)
	a.VoltageLevelID = v.ID()
	res, err := create(ctx, v.idx, models.KindGenerator, id, a)
	if err != nil {
		return nil, err
	}
	return newGenerator(v.idx, res), nil
}

// Remove is not supported: removing a voltage level would have to cascade
// to every piece of equipment it holds.
func (v *VoltageLevel) Remove(ctx context.Context) error {
	return models.UnsupportedMutation(v.Kind(), v.ID(), "remove voltage level")
}

package grid

import (
	"context"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// Switch is a breaker or disconnector.
type Switch struct {
	object[*models.SwitchAttributes]
}

func newSwitch(idx *index.Index, res *models.Resource) *Switch {
	return &Switch{object[*models.SwitchAttributes]{idx, res}}
}

// SwitchKind returns BREAKER, DISCONNECTOR or LOAD_BREAK_SWITCH.
func (s *Switch) SwitchKind() string { return s.attrs().SwitchKind }

// Open reports whether the switch is open.
func (s *Switch) Open() bool { return s.attrs().Open }

// SetOpen opens or closes the switch.
func (s *Switch) SetOpen(ctx context.Context, open bool) error {
	return s.update(ctx, func(a *models.SwitchAttributes) { a.Open = open })
}

// Retained reports whether the switch is kept in bus-breaker views.
func (s *Switch) Retained() bool { return s.attrs().Retained }

// SetRetained changes the retained flag.
func (s *Switch) SetRetained(ctx context.Context, retained bool) error {
	return s.update(ctx, func(a *models.SwitchAttributes) { a.Retained = retained })
}

// Nodes returns the two nodes the switch connects.
func (s *Switch) Nodes() (int, int) { return s.attrs().Node1, s.attrs().Node2 }

// VoltageLevel returns the containing voltage level.
func (s *Switch) VoltageLevel(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &s.object, "voltageLevelId")
}

// Remove deletes the switch.
func (s *Switch) Remove(ctx context.Context) error { return s.remove(ctx) }

// BusbarSection is a node of a node-breaker voltage level.
type BusbarSection struct {
	object[*models.BusbarSectionAttributes]
}

func newBusbarSection(idx *index.Index, res *models.Resource) *BusbarSection {
	return &BusbarSection{object[*models.BusbarSectionAttributes]{idx, res}}
}

// Node returns the node of the section.
func (b *BusbarSection) Node() int { return b.attrs().Node }

// VoltageLevel returns the containing voltage level.
func (b *BusbarSection) VoltageLevel(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &b.object, "voltageLevelId")
}

// AsInjection presents the section through the injection view shared by
// single-terminal equipment. A section carries no bus or flow, so those
// accessors fail with models.ErrUnsupportedQuery.
func (b *BusbarSection) AsInjection() Injection {
	return busbarInjection{b}
}

// Remove deletes the section.
func (b *BusbarSection) Remove(ctx context.Context) error { return b.remove(ctx) }

// Injection is the connection view of single-terminal equipment.
type Injection interface {
	VoltageLevelID() string
	Node() int
	Bus() (string, error)
	ConnectableBus() (string, error)
	P() (float64, error)
	Q() (float64, error)
	SetP(ctx context.Context, p float64) error
	SetQ(ctx context.Context, q float64) error
}

// injection implements Injection over attributes embedding
// models.InjectionAttributes.
type injection[A models.Attributes] struct {
	o   *object[A]
	get func(A) *models.InjectionAttributes
}

func (i injection[A]) VoltageLevelID() string { return i.get(i.o.attrs()).VoltageLevelID }
func (i injection[A]) Node() int              { return i.get(i.o.attrs()).Node }

func (i injection[A]) Bus() (string, error) {
	return i.get(i.o.attrs()).Bus, nil
}

func (i injection[A]) ConnectableBus() (string, error) {
	return i.get(i.o.attrs()).ConnectableBus, nil
}

func (i injection[A]) P() (float64, error) { return i.get(i.o.attrs()).P, nil }
func (i injection[A]) Q() (float64, error) { return i.get(i.o.attrs()).Q, nil }

func (i injection[A]) SetP(ctx context.Context, p float64) error {
	return i.o.update(ctx, func(a A) { i.get(a).P = p })
}

func (i injection[A]) SetQ(ctx context.Context, q float64) error {
	return i.o.update(ctx, func(a A) { i.get(a).Q = q })
}

type busbarInjection struct {
	b *BusbarSection
}

func (i busbarInjection) VoltageLevelID() string { return i.b.attrs().VoltageLevelID }
func (i busbarInjection) Node() int              { return i.b.attrs().Node }

func (i busbarInjection) unsupported(op string) error {
	return models.UnsupportedQuery(i.b.Kind(), i.b.ID(), op)
}

func (i busbarInjection) Bus() (string, error)            { return "", i.unsupported("bus") }
func (i busbarInjection) ConnectableBus() (string, error) { return "", i.unsupported("connectable bus") }
func (i busbarInjection) P() (float64, error)             { return 0, i.unsupported("p") }
func (i busbarInjection) Q() (float64, error)             { return 0, i.unsupported("q") }

func (i busbarInjection) SetP(context.Context, float64) error {
	return models.UnsupportedMutation(i.b.Kind(), i.b.ID(), "set p")
}

func (i busbarInjection) SetQ(context.Context, float64) error {
	return models.UnsupportedMutation(i.b.Kind(), i.b.ID(), "set q")
}

// Load is a consumer.
type Load struct {
	object[*models.LoadAttributes]
}

func newLoad(idx *index.Index, res *models.Resource) *Load {
	return &Load{object[*models.LoadAttributes]{idx, res}}
}

// LoadType returns UNDEFINED, AUXILIARY or FICTITIOUS; empty means UNDEFINED.
func (l *Load) LoadType() string { return l.attrs().LoadType }

// P0 returns the constant active power in MW.
func (l *Load) P0() float64 { return l.attrs().P0 }

// Q0 returns the constant reactive power in MVar.
func (l *Load) Q0() float64 { return l.attrs().Q0 }

// SetP0 changes the constant active power.
func (l *Load) SetP0(ctx context.Context, p0 float64) error {
	return l.update(ctx, func(a *models.LoadAttributes) { a.P0 = p0 })
}

// SetQ0 changes the constant reactive power.
func (l *Load) SetQ0(ctx context.Context, q0 float64) error {
	return l.update(ctx, func(a *models.LoadAttributes) { a.Q0 = q0 })
}

// Injection returns the connection view of the load.
func (l *Load) Injection() Injection {
	return injection[*models.LoadAttributes]{&l.object, func(a *models.LoadAttributes) *models.InjectionAttributes {
		return &a.InjectionAttributes
	}}
}

// Detail returns the fixed/variable split extension, or models.ErrNotFound.
func (l *Load) Detail() (*models.LoadDetail, error) {
	ext, err := l.Extension(models.ExtensionLoadDetail)
	if err != nil {
		return nil, err
	}
	return ext.(*models.LoadDetail), nil
}

// SetDetail attaches or replaces the fixed/variable split extension.
func (l *Load) SetDetail(ctx context.Context, detail models.LoadDetail) error {
	return l.AddExtension(ctx, &detail)
}

// VoltageLevel returns the containing voltage level.
func (l *Load) VoltageLevel(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &l.object, "voltageLevelId")
}

// Remove deletes the load.
func (l *Load) Remove(ctx context.Context) error { return l.remove(ctx) }

// Generator is a producer.
type Generator struct {
	object[*models.GeneratorAttributes]
}

func newGenerator(idx *index.Index, res *models.Resource) *Generator {
	return &Generator{object[*models.GeneratorAttributes]{idx, res}}
}

// EnergySource returns the primary energy source.
func (g *Generator) EnergySource() string { return g.attrs().EnergySource }

// MinP returns the minimum active power in MW.
func (g *Generator) MinP() float64 { return g.attrs().MinP }

// MaxP returns the maximum active power in MW.
func (g *Generator) MaxP() float64 { return g.attrs().MaxP }

// TargetP returns the active power set point.
func (g *Generator) TargetP() float64 { return g.attrs().TargetP }

// TargetQ returns the reactive power set point.
func (g *Generator) TargetQ() float64 { return g.attrs().TargetQ }

// TargetV returns the voltage set point in kV.
func (g *Generator) TargetV() float64 { return g.attrs().TargetV }

// VoltageRegulatorOn reports whether the generator regulates voltage.
func (g *Generator) VoltageRegulatorOn() bool { return g.attrs().VoltageRegulatorOn }

// SetTargetP changes the active power set point.
func (g *Generator) SetTargetP(ctx context.Context, p float64) error {
	return g.update(ctx, func(a *models.GeneratorAttributes) { a.TargetP = p })
}

// SetTargetQ changes the reactive power set point.
func (g *Generator) SetTargetQ(ctx context.Context, q float64) error {
	return g.update(ctx, func(a *models.GeneratorAttributes) { a.TargetQ = q })
}

// SetVoltageRegulation switches voltage regulation at targetV.
func (g *Generator) SetVoltageRegulation(ctx context.Context, on bool, targetV float64) error {
	return g.update(ctx, func(a *models.GeneratorAttributes) {
		a.VoltageRegulatorOn = on
		a.TargetV = targetV
	})
}

// RegulatingTerminal returns a copy of the regulated terminal, nil when the
// generator regulates at its own terminal.
func (g *Generator) RegulatingTerminal() *models.TerminalRef {
	if t := g.attrs().RegulatingTerminal; t != nil {
		c := *t
		return &c
	}
	return nil
}

// SetRegulatingTerminal changes the regulated terminal. nil resets it to
// the generator's own terminal.
func (g *Generator) SetRegulatingTerminal(ctx context.Context, terminal *models.TerminalRef) error {
	return g.update(ctx, func(a *models.GeneratorAttributes) {
		if terminal == nil {
			a.RegulatingTerminal = nil
			return
		}
		c := *terminal
		a.RegulatingTerminal = &c
	})
}

// RegulatingConnectable resolves the equipment of the regulated terminal.
// It returns the generator itself when no remote terminal is set, and
// models.ErrInconsistent when the remote equipment no longer exists.
func (g *Generator) RegulatingConnectable(ctx context.Context) (*models.Resource, error) {
	if g.attrs().RegulatingTerminal == nil {
		return g.Resource(), nil
	}
	return g.follow(ctx, "regulatingTerminal.connectableId")
}

// ActivePowerControl returns the balancing extension, or models.ErrNotFound.
func (g *Generator) ActivePowerControl() (*models.ActivePowerControl, error) {
	ext, err := g.Extension(models.ExtensionActivePowerControl)
	if err != nil {
		return nil, err
	}
	return ext.(*models.ActivePowerControl), nil
}

// SetActivePowerControl attaches or replaces the balancing extension.
func (g *Generator) SetActivePowerControl(ctx context.Context, participate bool, droop float64) error {
	return g.AddExtension(ctx, &models.ActivePowerControl{Participate: participate, Droop: droop})
}

// Injection returns the connection view of the generator.
func (g *Generator) Injection() Injection {
	return injection[*models.GeneratorAttributes]{&g.object, func(a *models.GeneratorAttributes) *models.InjectionAttributes {
		return &a.InjectionAttributes
	}}
}

// VoltageLevel returns the containing voltage level.
func (g *Generator) VoltageLevel(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &g.object, "voltageLevelId")
}

// Remove deletes the generator.
func (g *Generator) Remove(ctx context.Context) error { return g.remove(ctx) }

// Line is an AC line between two voltage levels.
type Line struct {
	object[*models.LineAttributes]
}

func newLine(idx *index.Index, res *models.Resource) *Line {
	return &Line{object[*models.LineAttributes]{idx, res}}
}

// R returns the series resistance in ohms.
func (l *Line) R() float64 { return l.attrs().R }

// X returns the series reactance in ohms.
func (l *Line) X() float64 { return l.attrs().X }

// SetImpedance changes the series resistance and reactance.
func (l *Line) SetImpedance(ctx context.Context, r, x float64) error {
	return l.update(ctx, func(a *models.LineAttributes) {
		a.R = r
		a.X = x
	})
}

// VoltageLevel1 returns the voltage level of side one.
func (l *Line) VoltageLevel1(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &l.object, "voltageLevelId1")
}

// VoltageLevel2 returns the voltage level of side two.
func (l *Line) VoltageLevel2(ctx context.Context) (*VoltageLevel, error) {
	return voltageLevelOf(ctx, &l.object, "voltageLevelId2")
}

// Remove deletes the line.
func (l *Line) Remove(ctx context.Context) error { return l.remove(ctx) }

func voltageLevelOf[A models.Attributes](ctx context.Context, o *object[A], field string) (*VoltageLevel, error) {
	res, err := o.follow(ctx, field)
	if err != nil {
		return nil, err
	}
	return newVoltageLevel(o.idx, res), nil
}

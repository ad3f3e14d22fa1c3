package models

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Attributes is the kind-specific payload of a Resource envelope.
//
// Implementations are plain structs with JSON and validation tags. The index
// never interprets payload fields beyond the two relation views below:
//   - Containers returns the ids of the structures that own the record; these
//     are the join keys of the secondary (children) index.
//   - References returns every foreign key held by the record so dangling
//     references can be reported.
//
// Optional fields default to the Go zero value: zero power, empty names,
// false flags and nil nested blocks.
type Attributes interface {
	Kind() Kind
	Containers() []string
	References() []Reference
	Clone() Attributes
}

// Reference is a foreign key held in attributes. An empty Kind means the
// target can be any equipment kind (regulating terminals, slack terminals).
type Reference struct {
	Field string `json:"field"`
	Kind  Kind   `json:"kind,omitempty"`
	ID    string `json:"id"`
}

// IdentifiableAttributes holds the fields shared by every kind.
type IdentifiableAttributes struct {
	Name       string            `json:"name,omitempty"`
	Fictitious bool              `json:"fictitious,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (a IdentifiableAttributes) clone() IdentifiableAttributes {
	a.Properties = maps.Clone(a.Properties)
	return a
}

// InjectionAttributes holds the connection fields of single-terminal equipment.
type InjectionAttributes struct {
	VoltageLevelID string  `json:"voltageLevelId" validate:"required"`
	Node           int     `json:"node,omitempty" validate:"gte=0"`
	Bus            string  `json:"bus,omitempty"`
	ConnectableBus string  `json:"connectableBus,omitempty"`
	P              float64 `json:"p"`
	Q              float64 `json:"q"`
}

// TerminalRef points at one side of a connectable.
type TerminalRef struct {
	ConnectableID string `json:"connectableId" validate:"required"`
	Side          string `json:"side,omitempty" validate:"omitempty,oneof=ONE TWO THREE"`
}

func (t *TerminalRef) clone() *TerminalRef {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ReactiveLimits is a min/max reactive capability.
type ReactiveLimits struct {
	MinQ float64 `json:"minQ"`
	MaxQ float64 `json:"maxQ" validate:"gtefield=MinQ"`
}

func (r *ReactiveLimits) clone() *ReactiveLimits {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// CurrentLimits is a permanent current limit in A.
type CurrentLimits struct {
	PermanentLimit float64 `json:"permanentLimit" validate:"gte=0"`
}

func (c *CurrentLimits) clone() *CurrentLimits {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// NetworkAttributes describes the top-level container.
type NetworkAttributes struct {
	IdentifiableAttributes
	UUID             uuid.UUID `json:"uuid" validate:"required"`
	CaseDate         time.Time `json:"caseDate"`
	ForecastDistance int       `json:"forecastDistance,omitempty" validate:"gte=0"`
	SourceFormat     string    `json:"sourceFormat,omitempty"`
}

func (a *NetworkAttributes) Kind() Kind              { return KindNetwork }
func (a *NetworkAttributes) Containers() []string    { return nil }
func (a *NetworkAttributes) References() []Reference { return nil }

func (a *NetworkAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	return &c
}

// SubstationAttributes describes a substation. Substations belong directly to
// the network.
type SubstationAttributes struct {
	IdentifiableAttributes
	Country          string   `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	TSO              string   `json:"tso,omitempty"`
	GeographicalTags []string `json:"geographicalTags,omitempty"`
}

func (a *SubstationAttributes) Kind() Kind              { return KindSubstation }
func (a *SubstationAttributes) Containers() []string    { return nil }
func (a *SubstationAttributes) References() []Reference { return nil }

func (a *SubstationAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	c.GeographicalTags = slices.Clone(a.GeographicalTags)
	return &c
}

// InternalConnection links two nodes of a node-breaker voltage level.
type InternalConnection struct {
	Node1 int `json:"node1" validate:"gte=0"`
	Node2 int `json:"node2" validate:"gte=0"`
}

// VoltageLevelAttributes describes a voltage level inside a substation.
type VoltageLevelAttributes struct {
	IdentifiableAttributes
	SubstationID        string               `json:"substationId" validate:"required"`
	NominalV            float64              `json:"nominalV" validate:"gt=0"`
	LowVoltageLimit     float64              `json:"lowVoltageLimit"`
	HighVoltageLimit    float64              `json:"highVoltageLimit"`
	TopologyKind        string               `json:"topologyKind" validate:"required,oneof=NODE_BREAKER BUS_BREAKER"`
	InternalConnections []InternalConnection `json:"internalConnections,omitempty" validate:"dive"`
}

func (a *VoltageLevelAttributes) Kind() Kind           { return KindVoltageLevel }
func (a *VoltageLevelAttributes) Containers() []string { return []string{a.SubstationID} }

func (a *VoltageLevelAttributes) References() []Reference {
	return []Reference{{Field: "substationId", Kind: KindSubstation, ID: a.SubstationID}}
}

func (a *VoltageLevelAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	c.InternalConnections = slices.Clone(a.InternalConnections)
	return &c
}

func voltageLevelRef(id string) []Reference {
	return []Reference{{Field: "voltageLevelId", Kind: KindVoltageLevel, ID: id}}
}

// SwitchAttributes describes a breaker or disconnector. The switch kind is
// serialized as "kind" inside attributes.
type SwitchAttributes struct {
	IdentifiableAttributes
	VoltageLevelID string `json:"voltageLevelId" validate:"required"`
	SwitchKind     string `json:"kind" validate:"required,oneof=BREAKER DISCONNECTOR LOAD_BREAK_SWITCH"`
	Node1          int    `json:"node1" validate:"gte=0"`
	Node2          int    `json:"node2" validate:"gte=0"`
	Bus1           string `json:"bus1,omitempty"`
	Bus2           string `json:"bus2,omitempty"`
	Open           bool   `json:"open"`
	Retained       bool   `json:"retained"`
}

func (a *SwitchAttributes) Kind() Kind              { return KindSwitch }
func (a *SwitchAttributes) Containers() []string    { return []string{a.VoltageLevelID} }
func (a *SwitchAttributes) References() []Reference { return voltageLevelRef(a.VoltageLevelID) }

func (a *SwitchAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	return &c
}

// BusbarSectionAttributes describes a busbar section.
type BusbarSectionAttributes struct {
	IdentifiableAttributes
	VoltageLevelID string `json:"voltageLevelId" validate:"required"`
	Node           int    `json:"node" validate:"gte=0"`
}

func (a *BusbarSectionAttributes) Kind() Kind              { return KindBusbarSection }
func (a *BusbarSectionAttributes) Containers() []string    { return []string{a.VoltageLevelID} }
func (a *BusbarSectionAttributes) References() []Reference { return voltageLevelRef(a.VoltageLevelID) }

func (a *BusbarSectionAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	return &c
}

// LoadAttributes describes a load.
type LoadAttributes struct {
	IdentifiableAttributes
	InjectionAttributes
	LoadType string  `json:"loadType,omitempty" validate:"omitempty,oneof=UNDEFINED AUXILIARY FICTITIOUS"`
	P0       float64 `json:"p0"`
	Q0       float64 `json:"q0"`
}

func (a *LoadAttributes) Kind() Kind              { return KindLoad }
func (a *LoadAttributes) Containers() []string    { return []string{a.VoltageLevelID} }
func (a *LoadAttributes) References() []Reference { return voltageLevelRef(a.VoltageLevelID) }

func (a *LoadAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	return &c
}

// GeneratorAttributes describes a generator.
type GeneratorAttributes struct {
	IdentifiableAttributes
	InjectionAttributes
	EnergySource       string          `json:"energySource,omitempty" validate:"omitempty,oneof=HYDRO NUCLEAR WIND THERMAL SOLAR OTHER"`
	MinP               float64         `json:"minP"`
	MaxP               float64         `json:"maxP" validate:"gtefield=MinP"`
	TargetP            float64         `json:"targetP"`
	TargetQ            float64         `json:"targetQ"`
	TargetV            float64         `json:"targetV" validate:"gte=0"`
	RatedS             float64         `json:"ratedS,omitempty" validate:"gte=0"`
	VoltageRegulatorOn bool            `json:"voltageRegulatorOn"`
	ReactiveLimits     *ReactiveLimits `json:"reactiveLimits,omitempty"`
	RegulatingTerminal *TerminalRef    `json:"regulatingTerminal,omitempty"`
}

func (a *GeneratorAttributes) Kind() Kind           { return KindGenerator }
func (a *GeneratorAttributes) Containers() []string { return []string{a.VoltageLevelID} }

func (a *GeneratorAttributes) References() []Reference {
	refs := voltageLevelRef(a.VoltageLevelID)
	if a.RegulatingTerminal != nil {
		refs = append(refs, Reference{Field: "regulatingTerminal.connectableId", ID: a.RegulatingTerminal.ConnectableID})
	}
	return refs
}

func (a *GeneratorAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	c.ReactiveLimits = a.ReactiveLimits.clone()
	c.RegulatingTerminal = a.RegulatingTerminal.clone()
	return &c
}

// ShuntLinearModel is the per-section admittance model of a shunt.
type ShuntLinearModel struct {
	BPerSection         float64 `json:"bPerSection"`
	GPerSection         float64 `json:"gPerSection"`
	MaximumSectionCount int     `json:"maximumSectionCount" validate:"gte=0"`
}

// ShuntCompensatorAttributes describes a shunt compensator.
type ShuntCompensatorAttributes struct {
	IdentifiableAttributes
	InjectionAttributes
	SectionCount int               `json:"sectionCount" validate:"gte=0"`
	Model        *ShuntLinearModel `json:"model,omitempty"`
}

func (a *ShuntCompensatorAttributes) Kind() Kind              { return KindShuntCompensator }
func (a *ShuntCompensatorAttributes) Containers() []string    { return []string{a.VoltageLevelID} }
func (a *ShuntCompensatorAttributes) References() []Reference { return voltageLevelRef(a.VoltageLevelID) }

func (a *ShuntCompensatorAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	if a.Model != nil {
		m := *a.Model
		c.Model = &m
	}
	return &c
}

// LineAttributes describes an AC line between two voltage levels. A line is a
// child of both of its voltage levels.
type LineAttributes struct {
	IdentifiableAttributes
	VoltageLevelID1 string         `json:"voltageLevelId1" validate:"required"`
	VoltageLevelID2 string         `json:"voltageLevelId2" validate:"required"`
	Node1           int            `json:"node1,omitempty" validate:"gte=0"`
	Node2           int            `json:"node2,omitempty" validate:"gte=0"`
	Bus1            string         `json:"bus1,omitempty"`
	Bus2            string         `json:"bus2,omitempty"`
	R               float64        `json:"r"`
	X               float64        `json:"x"`
	G1              float64        `json:"g1"`
	B1              float64        `json:"b1"`
	G2              float64        `json:"g2"`
	B2              float64        `json:"b2"`
	P1              float64        `json:"p1"`
	Q1              float64        `json:"q1"`
	P2              float64        `json:"p2"`
	Q2              float64        `json:"q2"`
	CurrentLimits1  *CurrentLimits `json:"currentLimits1,omitempty"`
	CurrentLimits2  *CurrentLimits `json:"currentLimits2,omitempty"`
}

func (a *LineAttributes) Kind() Kind { return KindLine }

func (a *LineAttributes) Containers() []string {
	if a.VoltageLevelID1 == a.VoltageLevelID2 {
		return []string{a.VoltageLevelID1}
	}
	return []string{a.VoltageLevelID1, a.VoltageLevelID2}
}

func (a *LineAttributes) References() []Reference {
	return []Reference{
		{Field: "voltageLevelId1", Kind: KindVoltageLevel, ID: a.VoltageLevelID1},
		{Field: "voltageLevelId2", Kind: KindVoltageLevel, ID: a.VoltageLevelID2},
	}
}

func (a *LineAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	c.CurrentLimits1 = a.CurrentLimits1.clone()
	c.CurrentLimits2 = a.CurrentLimits2.clone()
	return &c
}

// DanglingLineGeneration is the optional generation part of a dangling line.
type DanglingLineGeneration struct {
	MinP                float64         `json:"minP"`
	MaxP                float64         `json:"maxP" validate:"gtefield=MinP"`
	TargetP             float64         `json:"targetP"`
	TargetQ             float64         `json:"targetQ"`
	TargetV             float64         `json:"targetV" validate:"gte=0"`
	VoltageRegulationOn bool            `json:"voltageRegulationOn"`
	ReactiveLimits      *ReactiveLimits `json:"reactiveLimits,omitempty"`
}

// DanglingLineAttributes describes a line with one unconnected end.
type DanglingLineAttributes struct {
	IdentifiableAttributes
	InjectionAttributes
	P0            float64                 `json:"p0"`
	Q0            float64                 `json:"q0"`
	R             float64                 `json:"r"`
	X             float64                 `json:"x"`
	G             float64                 `json:"g"`
	B             float64                 `json:"b"`
	UcteXnodeCode string                  `json:"ucteXnodeCode,omitempty"`
	Generation    *DanglingLineGeneration `json:"generation,omitempty"`
	CurrentLimits *CurrentLimits          `json:"currentLimits,omitempty"`
}

func (a *DanglingLineAttributes) Kind() Kind              { return KindDanglingLine }
func (a *DanglingLineAttributes) Containers() []string    { return []string{a.VoltageLevelID} }
func (a *DanglingLineAttributes) References() []Reference { return voltageLevelRef(a.VoltageLevelID) }

func (a *DanglingLineAttributes) Clone() Attributes {
	c := *a
	c.IdentifiableAttributes = a.IdentifiableAttributes.clone()
	c.CurrentLimits = a.CurrentLimits.clone()
	if a.Generation != nil {
		g := *a.Generation
		g.ReactiveLimits = a.Generation.ReactiveLimits.clone()
		c.Generation = &g
	}
	return &c
}

package models

import (
	"fmt"
	"strings"
)

// Kind tags the entity type carried by a Resource envelope.
//
// The set of kinds is closed: every kind has a descriptor listing its REST
// path segment, the prefix used for generated ids, the kind of structure
// that contains it and the attribute variant it carries. Adding a kind is a
// data-model change in this file and in attributes.go.
type Kind string

const (
	KindNetwork          Kind = "NETWORK"
	KindSubstation       Kind = "SUBSTATION"
	KindVoltageLevel     Kind = "VOLTAGE_LEVEL"
	KindSwitch           Kind = "SWITCH"
	KindBusbarSection    Kind = "BUSBAR_SECTION"
	KindLoad             Kind = "LOAD"
	KindGenerator        Kind = "GENERATOR"
	KindShuntCompensator Kind = "SHUNT_COMPENSATOR"
	KindLine             Kind = "LINE"
	KindDanglingLine     Kind = "DANGLING_LINE"
)

type kindInfo struct {
	path      string
	prefix    string
	container Kind
	attrs     func() Attributes
}

var kindRegistry = map[Kind]kindInfo{
	KindNetwork: {
		path:   "networks",
		prefix: "network",
		attrs:  func() Attributes { return &NetworkAttributes{} },
	},
	KindSubstation: {
		path:   "substations",
		prefix: "substation",
		attrs:  func() Attributes { return &SubstationAttributes{} },
	},
	KindVoltageLevel: {
		path:      "voltage-levels",
		prefix:    "vl",
		container: KindSubstation,
		attrs:     func() Attributes { return &VoltageLevelAttributes{} },
	},
	KindSwitch: {
		path:      "switches",
		prefix:    "switch",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &SwitchAttributes{} },
	},
	KindBusbarSection: {
		path:      "busbar-sections",
		prefix:    "bbs",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &BusbarSectionAttributes{} },
	},
	KindLoad: {
		path:      "loads",
		prefix:    "load",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &LoadAttributes{} },
	},
	KindGenerator: {
		path:      "generators",
		prefix:    "gen",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &GeneratorAttributes{} },
	},
	KindShuntCompensator: {
		path:      "shunt-compensators",
		prefix:    "shunt",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &ShuntCompensatorAttributes{} },
	},
	KindLine: {
		path:      "lines",
		prefix:    "line",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &LineAttributes{} },
	},
	KindDanglingLine: {
		path:      "dangling-lines",
		prefix:    "dl",
		container: KindVoltageLevel,
		attrs:     func() Attributes { return &DanglingLineAttributes{} },
	},
}

// orderedKinds lists kinds so that containers always precede their children.
var orderedKinds = []Kind{
	KindNetwork,
	KindSubstation,
	KindVoltageLevel,
	KindSwitch,
	KindBusbarSection,
	KindLoad,
	KindGenerator,
	KindShuntCompensator,
	KindLine,
	KindDanglingLine,
}

// Kinds returns every known kind, containers first.
func Kinds() []Kind {
	out := make([]Kind, len(orderedKinds))
	copy(out, orderedKinds)
	return out
}

// EquipmentKinds returns the kinds contained by voltage levels.
func EquipmentKinds() []Kind {
	var out []Kind
	for _, k := range orderedKinds {
		if k.ContainerKind() == KindVoltageLevel {
			out = append(out, k)
		}
	}
	return out
}

// ParseKind accepts either the enum value (VOLTAGE_LEVEL) or the REST path
// segment (voltage-levels).
func ParseKind(s string) (Kind, error) {
	if k := Kind(strings.ToUpper(s)); k.Valid() {
		return k, nil
	}
	if k, ok := KindFromPath(s); ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// KindFromPath maps a REST path segment back to its kind.
func KindFromPath(segment string) (Kind, bool) {
	for k, info := range kindRegistry {
		if info.path == segment {
			return k, true
		}
	}
	return "", false
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindRegistry[k]
	return ok
}

// Path is the REST collection segment for k.
func (k Kind) Path() string {
	return kindRegistry[k].path
}

// IDPrefix is prepended to generated ids.
func (k Kind) IDPrefix() string {
	return kindRegistry[k].prefix
}

// ContainerKind is the kind of structure owning k, empty for network-level kinds.
func (k Kind) ContainerKind() Kind {
	return kindRegistry[k].container
}

// IsEquipment reports whether k is connectable equipment held by a voltage level.
func (k Kind) IsEquipment() bool {
	return k.ContainerKind() == KindVoltageLevel
}

// NewAttributes allocates the zero attribute variant for k, nil if unknown.
func (k Kind) NewAttributes() Attributes {
	info, ok := kindRegistry[k]
	if !ok {
		return nil
	}
	return info.attrs()
}

// AllowsExtension reports whether an extension named name may be attached to k.
func (k Kind) AllowsExtension(name string) bool {
	info, ok := extensionRegistry[name]
	if !ok {
		return false
	}
	for _, owner := range info.owners {
		if owner == k {
			return true
		}
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Extension is a typed auxiliary attribute block attached to a resource by
// name. The set of extensions is closed: each known name maps to exactly one
// payload type and one list of owner kinds.
//
// Extensions are persisted inside the owning envelope under "extensions", so
// a single point fetch returns the owner together with all of its blocks and
// removing the owner removes them.
//
// Example JSON representation of a substation with an extension:
//
//	{
//	  "id": "bar",
//	  "type": "SUBSTATION",
//	  "attributes": {"country": "FR", "tso": "RTE"},
//	  "extensions": {"entsoeArea": {"code": "D7"}}
//	}
type Extension interface {
	ExtensionName() string
	cloneExtension() Extension
}

const (
	ExtensionEntsoeArea         = "entsoeArea"
	ExtensionLoadDetail         = "detail"
	ExtensionSlackTerminal      = "slackTerminal"
	ExtensionActivePowerControl = "activePowerControl"
)

type extensionInfo struct {
	owners []Kind
	decode func() Extension
}

var extensionRegistry = map[string]extensionInfo{
	ExtensionEntsoeArea: {
		owners: []Kind{KindSubstation},
		decode: func() Extension { return &EntsoeArea{} },
	},
	ExtensionLoadDetail: {
		owners: []Kind{KindLoad},
		decode: func() Extension { return &LoadDetail{} },
	},
	ExtensionSlackTerminal: {
		owners: []Kind{KindVoltageLevel},
		decode: func() Extension { return &SlackTerminal{} },
	},
	ExtensionActivePowerControl: {
		owners: []Kind{KindGenerator},
		decode: func() Extension { return &ActivePowerControl{} },
	},
}

// ExtensionNames returns every known extension name, sorted.
func ExtensionNames() []string {
	names := make([]string, 0, len(extensionRegistry))
	for name := range extensionRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DecodeExtension decodes raw into the payload type registered for name.
// A null or empty payload is rejected rather than read as a zero block.
func DecodeExtension(name string, raw json.RawMessage) (Extension, error) {
	info, ok := extensionRegistry[name]
	if !ok {
		return nil, Validation("", "", "unknown extension "+name, nil)
	}
	if isNull(raw) {
		return nil, Validation("", "", "extension "+name+" has no payload", nil)
	}
	ext := info.decode()
	if err := json.Unmarshal(raw, ext); err != nil {
		return nil, Validation("", "", fmt.Sprintf("decode extension %s: %v", name, err), nil)
	}
	return ext, nil
}

// EntsoeArea records the ENTSO-E area code of a substation.
type EntsoeArea struct {
	Code string `json:"code" validate:"required"`
}

func (e *EntsoeArea) ExtensionName() string { return ExtensionEntsoeArea }

func (e *EntsoeArea) cloneExtension() Extension {
	c := *e
	return &c
}

// LoadDetail splits a load into fixed and variable parts.
type LoadDetail struct {
	FixedActivePower      float64 `json:"fixedActivePower"`
	FixedReactivePower    float64 `json:"fixedReactivePower"`
	VariableActivePower   float64 `json:"variableActivePower"`
	VariableReactivePower float64 `json:"variableReactivePower"`
}

func (e *LoadDetail) ExtensionName() string { return ExtensionLoadDetail }

func (e *LoadDetail) cloneExtension() Extension {
	c := *e
	return &c
}

// SlackTerminal designates the terminal used as slack for a voltage level.
type SlackTerminal struct {
	Terminal TerminalRef `json:"terminal"`
}

func (e *SlackTerminal) ExtensionName() string { return ExtensionSlackTerminal }

func (e *SlackTerminal) cloneExtension() Extension {
	c := *e
	return &c
}

// ActivePowerControl controls generator participation in balancing.
type ActivePowerControl struct {
	Participate bool    `json:"participate"`
	Droop       float64 `json:"droop" validate:"gte=0"`
}

func (e *ActivePowerControl) ExtensionName() string { return ExtensionActivePowerControl }

func (e *ActivePowerControl) cloneExtension() Extension {
	c := *e
	return &c
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

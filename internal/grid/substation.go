package grid

import (
	"context"
	"slices"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// Substation groups voltage levels at one site.
type Substation struct {
	object[*models.SubstationAttributes]
}

func newSubstation(idx *index.Index, res *models.Resource) *Substation {
	return &Substation{object[*models.SubstationAttributes]{idx, res}}
}

// Country returns the ISO 3166 alpha-2 country code, empty when unknown.
func (s *Substation) Country() string { return s.attrs().Country }

// SetCountry changes the country code.
func (s *Substation) SetCountry(ctx context.Context, country string) error {
	return s.update(ctx, func(a *models.SubstationAttributes) { a.Country = country })
}

// TSO returns the transmission system operator.
func (s *Substation) TSO() string { return s.attrs().TSO }

// SetTSO changes the transmission system operator.
func (s *Substation) SetTSO(ctx context.Context, tso string) error {
	return s.update(ctx, func(a *models.SubstationAttributes) { a.TSO = tso })
}

// GeographicalTags returns the tags in the order they were added.
func (s *Substation) GeographicalTags() []string {
	return slices.Clone(s.attrs().GeographicalTags)
}

// AddGeographicalTag appends tag unless it is already present.
func (s *Substation) AddGeographicalTag(ctx context.Context, tag string) error {
	if tag == "" {
		return models.Validation(s.Kind(), s.ID(), "empty geographical tag", nil)
	}
	return s.update(ctx, func(a *models.SubstationAttributes) {
		if !slices.Contains(a.GeographicalTags, tag) {
			a.GeographicalTags = append(a.GeographicalTags, tag)
		}
	})
}

// EntsoeArea returns the ENTSO-E area extension, or models.ErrNotFound.
func (s *Substation) EntsoeArea() (*models.EntsoeArea, error) {
	ext, err := s.Extension(models.ExtensionEntsoeArea)
	if err != nil {
		return nil, err
	}
	return ext.(*models.EntsoeArea), nil
}

// SetEntsoeArea attaches or replaces the ENTSO-E area extension.
func (s *Substation) SetEntsoeArea(ctx context.Context, code string) error {
	return s.AddExtension(ctx, &models.EntsoeArea{Code: code})
}

// VoltageLevels returns the voltage levels of the substation.
func (s *Substation) VoltageLevels(ctx context.Context) ([]*VoltageLevel, error) {
	res, err := s.idx.Children(ctx, s.ID(), models.KindVoltageLevel)
	if err != nil {
		return nil, err
	}
	return wrap(s.idx, res, newVoltageLevel), nil
}

// NewVoltageLevel creates a voltage level inside the substation.
func (s *Substation) NewVoltageLevel(ctx context.Context, id string, attrs *models.VoltageLevelAttributes) (*VoltageLevel, error) {
	if attrs == nil {
		attrs = &models.VoltageLevelAttributes{}
	}
	a := attrs.Clone().(*models.VoltageLevelAttributes)
	a.SubstationID = s.ID()
	res, err := create(ctx, s.idx, models.KindVoltageLevel, id, a)
	if err != nil {
		return nil, err
	}
	return newVoltageLevel(s.idx, res), nil
}

// Lines returns the lines touching any voltage level of the substation. A
// line internal to the substation is listed once.
func (s *Substation) Lines(ctx context.Context) ([]*Line, error) {
	vls, err := s.idx.Children(ctx, s.ID(), models.KindVoltageLevel)
	if err != nil {
		return nil, err
	}
	var all []*models.Resource
	for _, vl := range vls {
		lines, err := s.idx.Children(ctx, vl.ID, models.KindLine)
		if err != nil {
			return nil, err
		}
		all = append(all, lines...)
	}
	return wrap(s.idx, distinct(all), newLine), nil
}

// Remove deletes the substation. A substation still holding voltage levels
// cannot be removed: the cascade is not representable record by record.
func (s *Substation) Remove(ctx context.Context) error {
	return s.idx.RemoveEmpty(ctx, s.Kind(), s.ID(), models.KindVoltageLevel)
}

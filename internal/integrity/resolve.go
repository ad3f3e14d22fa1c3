package integrity

import (
	"context"
	"errors"

	"evalgo.org/gridstore/internal/index"
	"evalgo.org/gridstore/models"
)

// References returns every foreign key held by r: those of its attributes
// plus those carried by its extensions.
func References(r *models.Resource) []models.Reference {
	var refs []models.Reference
	if r.Attributes != nil {
		refs = append(refs, r.Attributes.References()...)
	}
	if ext, ok := r.Extension(models.ExtensionSlackTerminal); ok {
		st := ext.(*models.SlackTerminal)
		refs = append(refs, models.Reference{
			Field: "extensions.slackTerminal.terminal.connectableId",
			ID:    st.Terminal.ConnectableID,
		})
	}
	return refs
}

// Resolve follows ref from owner through idx. A target that does not exist
// yields models.ErrInconsistent; other failures are returned as they are.
// A reference without a kind is looked up across every equipment kind.
func Resolve(ctx context.Context, idx *index.Index, owner *models.Resource, ref models.Reference) (*models.Resource, error) {
	kinds := []models.Kind{ref.Kind}
	if ref.Kind == "" {
		kinds = models.EquipmentKinds()
	}
	if ref.ID != "" {
		for _, kind := range kinds {
			res, err := idx.Get(ctx, kind, ref.ID)
			if err == nil {
				return res, nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
		}
	}
	return nil, models.Inconsistent(owner.Kind, owner.ID, ref)
}

package swr

import (
	"context"

	"github.com/agentuity/go-swr/content"
)

// isAutosave reports a draft autosave pass.
func isAutosave(mc content.MutationContext) bool {
	return mc.Autosave
}

// isUnattendedBackground reports a mutation made by a scheduled job with no
// acting user, such as a regeneration job saving content of its own.
func isUnattendedBackground(mc content.MutationContext) bool {
	return mc.Background && mc.UserID == ""
}

// typeMismatch reports a save of a content type a query entry does not select.
func typeMismatch(kind Kind, q content.Query, item content.Item) bool {
	return kind == KindQuery && q.Type != "" && item.Type != q.Type
}

// lacksTaxonomyTerm reports a save of content with no term in a taxonomy
// entry's taxonomy.
func lacksTaxonomyTerm(kind Kind, q content.Query, item content.Item) bool {
	return kind == KindTaxonomy && q.Taxonomy != "" && !item.HasTaxonomy(q.Taxonomy)
}

func (e *Entry) ignoreSave(ev content.SavedEvent) bool {
	q := e.Query()
	return isAutosave(ev.Context) ||
		isUnattendedBackground(ev.Context) ||
		typeMismatch(e.kind, q, ev.Item) ||
		lacksTaxonomyTerm(e.kind, q, ev.Item)
}

func (e *Entry) onSaved(ctx context.Context, ev content.SavedEvent) {
	if e.ignoreSave(ev) {
		e.logger.Trace("ignoring save of %s", ev.Item.ID)
		return
	}
	e.Invalidate(ctx)
}

func (e *Entry) onDeleted(ctx context.Context, ev content.DeletedEvent) {
	e.Invalidate(ctx)
}

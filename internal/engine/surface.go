package engine

import (
	"feedfilter/internal/filter"
	"feedfilter/internal/model"
)

// Surface is the mutable view of the host document the engine works on.
//
// Post values returned by Posts must be comparable and stable: the same
// underlying node always yields the same value, and a new node yields a new one.
type Surface interface {
	// Posts lists the posts currently in the document, in display order.
	Posts() []filter.Post
	// Hide removes p from view.
	Hide(p filter.Post)
	// Show makes p visible again.
	Show(p filter.Post)
	// AlreadyFiltered reports whether the document already shows p as filtered,
	// for example because a marker sits right before it.
	AlreadyFiltered(p filter.Post) bool
	// InsertMarker places a marker immediately before p.
	InsertMarker(p filter.Post, info model.MarkerInfo) (Marker, error)
	// Markers lists every marker in the document, in display order.
	Markers() []Marker
	// RemoveMarker deletes m from the document.
	RemoveMarker(m Marker)
}

// Marker is a suppression marker placed in the document.
type Marker interface {
	Info() model.MarkerInfo
	// Next returns the post that directly follows the marker, or nil.
	Next() filter.Post
	Revealed() bool
	// SetRevealed flips the marker's "temporarily revealed" label.
	SetRevealed(revealed bool)
	// Collapse hides the marker itself.
	Collapse()
}

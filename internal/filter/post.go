package filter

// Feature is a structural marker a post may carry.
type Feature int

// Structural markers inspected by the matchers.
const (
	FeatureVideo             Feature = iota + 1 // video player region or native video element
	FeatureSocialContext                        // shared/quoted context header
	FeatureVerifiedBadge                        // verified-account badge
	FeaturePromotedIndicator                    // explicit promoted indicator
	FeatureAdAttribute                          // boolean ad attribute on the post
	FeatureFollowIndicator                      // "following" label near the author
)

var featureNames = map[Feature]string{
	FeatureVideo:             "video",
	FeatureSocialContext:     "social-context",
	FeatureVerifiedBadge:     "verified-badge",
	FeaturePromotedIndicator: "promoted-indicator",
	FeatureAdAttribute:       "ad-attribute",
	FeatureFollowIndicator:   "follow-indicator",
}

func (f Feature) String() string {
	if n, ok := featureNames[f]; ok {
		return n
	}
	return "unknown"
}

// Post is the read-only view of one rendered feed item.
//
// Implementations never fail: missing data is reported as an empty string or
// a nil slice, and matchers treat that as "no information".
type Post interface {
	// PrimaryText is the authored text of the post, without UI chrome.
	PrimaryText() string
	// FullText is all text under the post, chrome included.
	FullText() string
	// Has reports whether the post carries the structural marker f.
	Has(f Feature) bool
	// Links lists the href of every hyperlink in the post, in document order.
	Links() []string
	// AuthorCandidates lists author handles found by each extraction strategy,
	// most reliable first.
	AuthorCandidates() []string
	// ContextText is the text of the post's social-context region.
	ContextText() string
	// Labels lists short standalone text labels that are not inside an
	// interactive control.
	Labels() []string
	// ContainerText is the text of the cell that wraps the post.
	ContainerText() string
	// Permalink is the post's status link, or "" if none is found.
	Permalink() string
}

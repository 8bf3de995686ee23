// Package requirement resolves whether SEO work is required for a content
// variant by applying the four-layer override chain: variant beats channel
// beats project beats the content-type default. A nil layer means "inherit".
package requirement

type Source string

const (
	SourceVariant Source = "variant"
	SourceChannel Source = "channel"
	SourceProject Source = "project"
	SourceGlobal  Source = "global"
)

// Effective is the resolved requirement plus the layer that produced it.
type Effective struct {
	Required bool   `json:"required"`
	Source   Source `json:"source"`
}

// Layers holds the raw override values for one variant. Global is the
// content-type default and is always defined; the other three are nil when
// no override exists at that layer.
type Layers struct {
	Global  bool
	Project *bool
	Channel *bool
	Variant *bool
}

// Resolve walks the chain finest-grained first and returns the first
// non-nil value together with its provenance. Absence is never an error.
func Resolve(global bool, project, channel, variant *bool) Effective {
	if variant != nil {
		return Effective{Required: *variant, Source: SourceVariant}
	}
	if channel != nil {
		return Effective{Required: *channel, Source: SourceChannel}
	}
	if project != nil {
		return Effective{Required: *project, Source: SourceProject}
	}
	return Effective{Required: global, Source: SourceGlobal}
}

func (l Layers) Resolve() Effective {
	return Resolve(l.Global, l.Project, l.Channel, l.Variant)
}

// Next advances a tri-state override one step in the fixed cycle
// inherit -> required -> not required -> inherit. This is the only way the
// UI sets or clears an override; there is no separate "clear" action.
func Next(v *bool) *bool {
	switch {
	case v == nil:
		t := true
		return &t
	case *v:
		f := false
		return &f
	default:
		return nil
	}
}

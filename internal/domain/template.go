package domain

// TemplateKind tags the visual template variants the compositor understands.
type TemplateKind string

const (
	TemplateOverlay   TemplateKind = "overlay"
	TemplateWatermark TemplateKind = "watermark"
	TemplateText      TemplateKind = "text"
	TemplateTextBand  TemplateKind = "text_band"
	TemplateHTML      TemplateKind = "html"
)

// VisualTemplate is a declarative overlay/watermark/text specification applied
// to a generated image before delivery. Position and size fields are
// percentages of the target canvas. The pipeline reads templates, never
// writes them.
type VisualTemplate struct {
	ID              string
	UserID          string
	Name            string
	Kind            TemplateKind
	AssetPath       string
	Text            string
	FontFamily      string
	FontColor       string
	BackgroundColor string
	FontSizePct     float64
	WidthPct        float64
	HeightPct       float64
	PositionXPct    float64
	PositionYPct    float64
	Opacity         float64
}

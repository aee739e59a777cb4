package models

import "strings"

// NewsItem is one discovered story, as produced by the scouting stage.
type NewsItem struct {
	Headline      string   `json:"headline"`
	Summary       string   `json:"summary"`
	SourceURL     string   `json:"source_url,omitempty"`
	LinkedInAngle string   `json:"linkedin_angle,omitempty"`
	TopicTags     []string `json:"topic_tags"`
}

// ShortForm is the LinkedIn-style post draft.
type ShortForm struct {
	Text        string   `json:"text"`
	SourceItems []string `json:"source_items,omitempty"`
}

// LongForm is the Markdown article draft.
type LongForm struct {
	Title       string   `json:"title"`
	Markdown    string   `json:"markdown"`
	Tags        []string `json:"tags,omitempty"`
	SourceItems []string `json:"source_items,omitempty"`
}

// Content is the generated payload carried by a pipeline. It is produced
// outside this service and passed through to publishers unchanged.
type Content struct {
	ShortForm *ShortForm `json:"short_form,omitempty"`
	LongForm  *LongForm  `json:"long_form,omitempty"`
	Sources   []NewsItem `json:"sources,omitempty"`
}

// HasShortForm reports whether there is post text to publish.
func (c *Content) HasShortForm() bool {
	return c != nil && c.ShortForm != nil && strings.TrimSpace(c.ShortForm.Text) != ""
}

// HasLongForm reports whether there is an article body to publish.
func (c *Content) HasLongForm() bool {
	return c != nil && c.LongForm != nil && strings.TrimSpace(c.LongForm.Markdown) != ""
}

// IsEmpty reports whether neither draft carries anything publishable.
func (c *Content) IsEmpty() bool {
	return !c.HasShortForm() && !c.HasLongForm()
}

package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ifuryst/herald/internal/models"
	"github.com/ifuryst/herald/pkg/util"
)

const (
	summaryFallbackRunes = 300
	roundupFallbackRunes = 500
	summaryFallbackTitle = "Content Summary"
	summaryFallbackAngle = "Insights from curated content"
	roundupFallbackTitle = "AI/Tech News Roundup"
	roundupFallbackAngle = "General AI/tech trends"
)

var errNoHeadline = errors.New("news item has no headline")

// NewsItemShape expects a single summarised story.
var NewsItemShape = Shape[models.NewsItem]{
	Name: "news_item",
	Decode: func(data []byte) (models.NewsItem, error) {
		var item models.NewsItem
		if err := json.Unmarshal(data, &item); err != nil {
			return item, err
		}
		return normalizeItem(item), nil
	},
	Validate: func(item models.NewsItem) error {
		if item.Headline == "" {
			return errNoHeadline
		}
		return nil
	},
	Fallback: func(text string) models.NewsItem {
		return models.NewsItem{
			Headline:      summaryFallbackTitle,
			Summary:       util.Truncate(text, summaryFallbackRunes),
			LinkedInAngle: summaryFallbackAngle,
			TopicTags:     []string{"AI", "Technology"},
		}
	},
}

// NewsItemsShape expects a list of stories. Entries that are not objects are skipped.
var NewsItemsShape = Shape[[]models.NewsItem]{
	Name: "news_items",
	Decode: func(data []byte) ([]models.NewsItem, error) {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		items := make([]models.NewsItem, 0, len(raw))
		for _, entry := range raw {
			var item models.NewsItem
			if err := json.Unmarshal(entry, &item); err != nil {
				continue
			}
			items = append(items, normalizeItem(item))
		}
		return items, nil
	},
	Validate: func(items []models.NewsItem) error {
		if len(items) == 0 {
			return errors.New("no news items")
		}
		return nil
	},
	Fallback: func(text string) []models.NewsItem {
		return []models.NewsItem{{
			Headline:      roundupFallbackTitle,
			Summary:       util.Truncate(text, roundupFallbackRunes),
			LinkedInAngle: roundupFallbackAngle,
			TopicTags:     []string{"AI"},
		}}
	},
}

func normalizeItem(item models.NewsItem) models.NewsItem {
	item.Headline = strings.TrimSpace(item.Headline)
	item.Summary = strings.TrimSpace(item.Summary)
	if item.TopicTags == nil {
		item.TopicTags = []string{}
	}
	return item
}

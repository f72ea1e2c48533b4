package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
)

var ErrSectionNotFound = errors.New("section not found")

// Message is a rendered DM body.
type Message struct {
	Text           string
	ItemCount      int
	CharacterCount int
}

// Composer renders the DM text for a section. Output only depends on the
// section content, so composing twice gives the same text.
type Composer struct {
	DB      *gorm.DB
	SiteURL string
}

func (c *Composer) Compose(ctx context.Context, sectionID uint64, maxItems int, includeLink bool) (Message, error) {
	var s Section
	if err := c.DB.WithContext(ctx).First(&s, sectionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, fmt.Errorf("%w: %d", ErrSectionNotFound, sectionID)
		}
		return Message{}, err
	}

	if maxItems <= 0 {
		maxItems = 10
	}

	var items []Item
	if err := c.DB.WithContext(ctx).
		Where("section_id = ?", sectionID).
		Order("created_at desc, id desc").
		Limit(maxItems).
		Find(&items).Error; err != nil {
		return Message{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi! Here are my top picks from \"%s\":\n\n", s.Title)

	if includeLink {
		fmt.Fprintf(&b, "🔗 View full collection: %s/list/%d\n\n", strings.TrimRight(c.SiteURL, "/"), s.ID)
	}

	for i, it := range items {
		title := "Product"
		if it.ItemTitle != nil && *it.ItemTitle != "" {
			title = *it.ItemTitle
		}
		fmt.Fprintf(&b, "%d. %s", i+1, title)
		if it.Price != nil && *it.Price != "" {
			fmt.Fprintf(&b, " - ₹%s", *it.Price)
		}
		fmt.Fprintf(&b, "\n👉 %s\n\n", it.AffiliateLink)
	}

	if len(items) < maxItems {
		fmt.Fprintf(&b, "(Showing all %d items)\n\n", len(items))
	} else {
		fmt.Fprintf(&b, "(Showing top %d items - visit link for more)\n\n", maxItems)
	}

	b.WriteString("💕 Thank you for your support! xoxo")

	text := b.String()
	return Message{
		Text:           text,
		ItemCount:      len(items),
		CharacterCount: utf8.RuneCountInString(text),
	}, nil
}

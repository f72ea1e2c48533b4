package instagram

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrMappingNotFound = errors.New("reel mapping not found")

type Mappings struct {
	DB *gorm.DB
}

type UpsertMappingInput struct {
	ReelID       string
	ReelURL      string
	ThumbnailURL *string
	Caption      *string
	SectionID    uint64
	Keyword      string
	MaxItemsInDM *int
	IncludeLink  *bool
}

// NormalizeKeyword is how both stored keywords and comment text are compared.
func NormalizeKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Upsert creates or replaces the mapping for a reel. The result is always a
// draft; Publish activates it.
func (m *Mappings) Upsert(ctx context.Context, in UpsertMappingInput) (ReelMapping, error) {
	maxItems := 10
	if in.MaxItemsInDM != nil && *in.MaxItemsInDM > 0 {
		maxItems = *in.MaxItemsInDM
	}
	includeLink := true
	if in.IncludeLink != nil {
		includeLink = *in.IncludeLink
	}

	var out ReelMapping
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("reel_id = ?", in.ReelID).First(&out).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		out.ReelID = in.ReelID
		out.ReelURL = in.ReelURL
		out.ThumbnailURL = in.ThumbnailURL
		out.Caption = in.Caption
		out.SectionID = in.SectionID
		out.Keyword = NormalizeKeyword(in.Keyword)
		out.Active = false
		out.MaxItemsInDM = maxItems
		out.IncludeLink = includeLink
		return tx.Save(&out).Error
	})
	return out, err
}

func (m *Mappings) Publish(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	res := m.DB.WithContext(ctx).Model(&ReelMapping{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": true, "published_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// Toggle flips the active flag and returns the new value.
func (m *Mappings) Toggle(ctx context.Context, id uint64) (bool, error) {
	var active bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rm ReelMapping
		if err := tx.First(&rm, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMappingNotFound
			}
			return err
		}
		active = !rm.Active
		return tx.Model(&rm).Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()}).Error
	})
	return active, err
}

func (m *Mappings) Delete(ctx context.Context, id uint64) error {
	res := m.DB.WithContext(ctx).Delete(&ReelMapping{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// Counts returns how many mappings are active and how many exist.
func (m *Mappings) Counts(ctx context.Context) (active, total int64, err error) {
	if err = m.DB.WithContext(ctx).Model(&ReelMapping{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = m.DB.WithContext(ctx).Model(&ReelMapping{}).Where("active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return active, total, nil
}

func (m *Mappings) List(ctx context.Context, active *bool) ([]ReelMapping, error) {
	q := m.DB.WithContext(ctx).Order("id desc")
	if active != nil {
		q = q.Where("active = ?", *active)
	}
	var out []ReelMapping
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ForComment finds the active mapping of a reel whose keyword equals the
// comment text. Returns nil when there is none.
func (m *Mappings) ForComment(ctx context.Context, reelID, commentText string) (*ReelMapping, error) {
	return m.first(ctx, m.DB.Where("reel_id = ? AND active = ? AND keyword = ?", reelID, true, NormalizeKeyword(commentText)))
}

// ForReel finds the active mapping of a reel regardless of keyword.
func (m *Mappings) ForReel(ctx context.Context, reelID string) (*ReelMapping, error) {
	return m.first(ctx, m.DB.Where("reel_id = ? AND active = ?", reelID, true))
}

func (m *Mappings) first(ctx context.Context, q *gorm.DB) (*ReelMapping, error) {
	var rm ReelMapping
	err := q.WithContext(ctx).First(&rm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

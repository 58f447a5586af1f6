package model

import "time"

const (
	VisibilityPrivate = "private"
	VisibilityFriends = "friends"
	VisibilityPublic  = "public"
)

// Character is a player-authored character sheet.
type Character struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID     string    `gorm:"index:idx_character_owner;size:36;not null" json:"owner_id"`
	Name        string    `gorm:"size:64;not null" json:"name"`
	Species     string    `gorm:"size:64" json:"species"`
	Race        string    `gorm:"size:64" json:"race"`
	Class       string    `gorm:"size:64" json:"class"`
	Level       int       `gorm:"default:1" json:"level"`
	Backstory   string    `gorm:"type:text" json:"backstory"`
	PortraitURL string    `gorm:"size:512" json:"portrait_url"`
	Visibility  string    `gorm:"size:16;not null;default:private" json:"visibility"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CharacterPatch is a partial update. Nil fields are left untouched.
type CharacterPatch struct {
	Name        *string `json:"name"        binding:"omitempty,min=1,max=64"`
	Species     *string `json:"species"     binding:"omitempty,max=64"`
	Race        *string `json:"race"        binding:"omitempty,max=64"`
	Class       *string `json:"class"       binding:"omitempty,max=64"`
	Level       *int    `json:"level"       binding:"omitempty,min=1,max=100"`
	Backstory   *string `json:"backstory"   binding:"omitempty,max=20000"`
	Visibility  *string `json:"visibility"  binding:"omitempty,oneof=private friends public"`
	PortraitURL *string `json:"-"`
}

// Empty reports whether the patch would change nothing.
func (p CharacterPatch) Empty() bool {
	return p.Name == nil && p.Species == nil && p.Race == nil && p.Class == nil &&
		p.Level == nil && p.Backstory == nil && p.Visibility == nil && p.PortraitURL == nil
}

// Apply merges the set fields of p into c.
func (p CharacterPatch) Apply(c *Character) {
	setString(&c.Name, p.Name)
	setString(&c.Species, p.Species)
	setString(&c.Race, p.Race)
	setString(&c.Class, p.Class)
	setString(&c.Backstory, p.Backstory)
	setString(&c.Visibility, p.Visibility)
	setString(&c.PortraitURL, p.PortraitURL)
	if p.Level != nil {
		c.Level = *p.Level
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

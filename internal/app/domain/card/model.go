package card

import (
	"errors"
	"time"
)

// SystemAuthor marks cards synthesized by the platform.
const SystemAuthor = "system"

var (
	// ErrNotFound is returned when a card id is unknown.
	ErrNotFound = errors.New("card not found")
	// ErrInvalid wraps validation failures on card input.
	ErrInvalid = errors.New("invalid card")
)

// Card is a unit of shared knowledge. Cards are never deleted; the only
// mutations are the correct counter and the mint status.
type Card struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	AuthorID     string         `json:"author_id"`
	MediaURLs    []string       `json:"media_urls"`
	Tags         []string       `json:"tags"`
	CorrectCount int64          `json:"correct_count"`
	MintStatus   map[string]any `json:"nft_status,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IsFiller reports whether the card was generated by the platform.
func (c Card) IsFiller() bool {
	return c.AuthorID == SystemAuthor
}

// Clone returns a copy that shares no slices or maps with c.
func (c Card) Clone() Card {
	c.MediaURLs = append([]string{}, c.MediaURLs...)
	c.Tags = append([]string{}, c.Tags...)
	if c.MintStatus != nil {
		status := make(map[string]any, len(c.MintStatus))
		for k, v := range c.MintStatus {
			status[k] = v
		}
		c.MintStatus = status
	}
	return c
}

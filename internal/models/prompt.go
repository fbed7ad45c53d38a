package models

import "time"

// PromptTemplate is a reusable prompt selectable in chat via its command.
// The command is derived from the title: lowercase, spaces to dashes, with a
// leading slash.
type PromptTemplate struct {
	Title     string    `json:"title"`
	Command   string    `json:"command"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptExport is the portable on-disk form of a template. Export then
// import must round-trip to an equivalent PromptTemplate.
type PromptExport struct {
	Title       string `json:"title"`
	Command     string `json:"command,omitempty"`
	Content     string `json:"content"`
	LastUpdated string `json:"last_updated,omitempty"`
}

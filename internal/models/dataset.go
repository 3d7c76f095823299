package models

import "time"

// Dataset is a parsed tabular dataset held by the client. Rows keep the raw cell values, Preview holds the
// leading rows shown next to the conversation.
type Dataset struct {
	ID      string
	Name    string
	Columns []string
	Rows    [][]string
	Preview [][]string
}

// DatasetRecord is the stored form of an uploaded dataset file.
type DatasetRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Raw        []byte    `json:"raw"`
}

package models

import "image"

// Document is a source PDF held in memory together with its page count.
type Document struct {
	Name      string
	Data      []byte
	PageCount int
}

// Page is one rasterized page of a Document at a fixed resolution.
type Page struct {
	Index int
	Image image.Image
}

// AttachmentStatus is the lifecycle state reported for one processing attempt.
type AttachmentStatus string

const (
	StatusProcessing AttachmentStatus = "processing"
	StatusSuccess    AttachmentStatus = "success"
	StatusFailed     AttachmentStatus = "failed"
)

// Attachment is the metadata the attachment gateway returns for an id.
type Attachment struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	FileURL  string `json:"fileUrl"`
	Status   string `json:"status,omitempty"`
}

package model

// Change is one entry of the document store's change feed.
//
// Seq is strictly increasing across the feed. A document may appear many
// times; each appearance carries the revision that produced it.
type Change struct {
	Seq     int64  `json:"seq"`
	DocID   string `json:"doc_id"`
	Rev     string `json:"rev"`
	Deleted bool   `json:"deleted,omitempty"`
}

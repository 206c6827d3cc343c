package domain

// DocumentResult is the verification outcome for one supporting document.
type DocumentResult struct {
	DocumentID string   `json:"documentId,omitempty"`
	Type       string   `json:"type,omitempty"` // e.g. "title_deed", "id_card"
	IsVerified bool     `json:"isVerified"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Issues     []string `json:"issues,omitempty"`
}

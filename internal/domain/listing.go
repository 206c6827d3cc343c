package domain

import (
	"encoding/json"
	"time"
)

// VerificationStatus is the verification state of a listing.
type VerificationStatus string

const (
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
	StatusFailed     VerificationStatus = "failed"
	StatusSuspicious VerificationStatus = "suspicious"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFailed, StatusSuspicious:
		return true
	}
	return false
}

// Listing is a real-estate listing record supplied by the listing source.
// The risk core only reads it; status changes go through Repository.UpdateListingStatus.
type Listing struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`

	// OwnerTrustScore is in [0,1]. Nil when the listing source has no score for the owner.
	OwnerTrustScore *float64 `json:"ownerTrustScore,omitempty"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Bedrooms    float64  `json:"bedrooms"`
	Bathrooms   float64  `json:"bathrooms"`
	FloorArea   float64  `json:"floorArea"` // square feet
	Location    string   `json:"location"`
	Amenities   []string `json:"amenities,omitempty"`
	YearBuilt   int      `json:"yearBuilt,omitempty"`

	VerificationStatus VerificationStatus `json:"verificationStatus"`

	// FlaggedFraud is an explicit fraud flag set upstream (moderation, chargeback, report).
	FlaggedFraud bool `json:"flaggedFraud,omitempty"`

	// AIVerificationResults is a previously stored verification payload of unspecified shape.
	AIVerificationResults json.RawMessage `json:"aiVerificationResults,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status returns the verification status, treating unknown values as pending.
func (l *Listing) Status() VerificationStatus {
	if l.VerificationStatus.Valid() {
		return l.VerificationStatus
	}
	return StatusPending
}

// ListingRequest is the API payload for ingesting a listing.
type ListingRequest struct {
	ID                    string             `json:"id"`
	OwnerID               string             `json:"ownerId" validate:"required"`
	OwnerTrustScore       *float64           `json:"ownerTrustScore,omitempty" validate:"omitempty,gte=0,lte=1"`
	Title                 string             `json:"title,omitempty"`
	Description           string             `json:"description,omitempty"`
	Price                 float64            `json:"price" validate:"gte=0"`
	Bedrooms              float64            `json:"bedrooms" validate:"gte=0"`
	Bathrooms             float64            `json:"bathrooms" validate:"gte=0"`
	FloorArea             float64            `json:"floorArea" validate:"gte=0"`
	Location              string             `json:"location" validate:"required"`
	Amenities             []string           `json:"amenities,omitempty"`
	YearBuilt             int                `json:"yearBuilt,omitempty" validate:"gte=0"`
	VerificationStatus    VerificationStatus `json:"verificationStatus,omitempty" validate:"omitempty,oneof=pending verified failed suspicious"`
	FlaggedFraud          bool               `json:"flaggedFraud,omitempty"`
	AIVerificationResults json.RawMessage    `json:"aiVerificationResults,omitempty"`
}

// ToListing converts a request to a Listing domain object.
func (r *ListingRequest) ToListing() *Listing {
	now := time.Now().UTC()
	status := r.VerificationStatus
	if status == "" {
		status = StatusPending
	}
	return &Listing{
		ID:                    r.ID,
		OwnerID:               r.OwnerID,
		OwnerTrustScore:       r.OwnerTrustScore,
		Title:                 r.Title,
		Description:           r.Description,
		Price:                 r.Price,
		Bedrooms:              r.Bedrooms,
		Bathrooms:             r.Bathrooms,
		FloorArea:             r.FloorArea,
		Location:              r.Location,
		Amenities:             r.Amenities,
		YearBuilt:             r.YearBuilt,
		VerificationStatus:    status,
		FlaggedFraud:          r.FlaggedFraud,
		AIVerificationResults: r.AIVerificationResults,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

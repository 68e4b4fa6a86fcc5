package models

import "time"

// PublicationState is the visibility of an ad in the gallery.
type PublicationState string

const (
	// StatePendingReview is the initial state of every uploaded ad. It has not
	// passed the payment gate and is never returned by public listings.
	StatePendingReview PublicationState = "pending_review"
	// StatePublished ads are visible in public listings.
	StatePublished PublicationState = "published"
	// StateHidden ads were published at least once and have since been
	// withdrawn by the owner or by moderation.
	StateHidden PublicationState = "hidden"
)

// Valid reports whether s is one of the known states.
func (s PublicationState) Valid() bool {
	switch s {
	case StatePendingReview, StatePublished, StateHidden:
		return true
	}
	return false
}

// Ad is a gallery posting. Only the fields needed by the publication
// lifecycle are modelled; content is carried through opaquely.
type Ad struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	// State is the current publication state. Mutated only through the
	// publication coordinator.
	State PublicationState `json:"state"`
	// ModerationLocked is set when an approved report hid the ad. While set,
	// the owner cannot publish the ad again and payment events cannot
	// resurrect it.
	ModerationLocked bool      `json:"moderation_locked"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AdState is the pair of fields the coordinator compares and swaps.
type AdState struct {
	State  PublicationState
	Locked bool
}

// StateOf returns the comparable lifecycle state of the ad.
func (a Ad) StateOf() AdState {
	return AdState{State: a.State, Locked: a.ModerationLocked}
}

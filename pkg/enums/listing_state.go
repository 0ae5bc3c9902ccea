package enums

import "fmt"

// ListingState tracks the sale availability of an account listing.
type ListingState string

const (
	ListingStateDraft         ListingState = "draft"
	ListingStatePendingReview ListingState = "pending_review"
	ListingStateApproved      ListingState = "approved"
	ListingStateRejected      ListingState = "rejected"
	ListingStateReserved      ListingState = "reserved"
	ListingStateSold          ListingState = "sold"
)

var validListingStates = []ListingState{
	ListingStateDraft,
	ListingStatePendingReview,
	ListingStateApproved,
	ListingStateRejected,
	ListingStateReserved,
	ListingStateSold,
}

// String implements fmt.Stringer.
func (s ListingState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ListingState.
func (s ListingState) IsValid() bool {
	for _, candidate := range validListingStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseListingState converts raw input into a ListingState.
func ParseListingState(value string) (ListingState, error) {
	for _, candidate := range validListingStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing state %q", value)
}

package enums

import "fmt"

// DeliveryMethod describes how the seller hands the currency to the buyer in game.
type DeliveryMethod string

const (
	DeliveryMethodInGameMail         DeliveryMethod = "in_game_mail"
	DeliveryMethodFaceToFace         DeliveryMethod = "face_to_face"
	DeliveryMethodMarketplaceListing DeliveryMethod = "marketplace_listing"
)

var validDeliveryMethods = []DeliveryMethod{
	DeliveryMethodInGameMail,
	DeliveryMethodFaceToFace,
	DeliveryMethodMarketplaceListing,
}

// IsValid reports whether the value matches the canonical delivery method enum.
func (m DeliveryMethod) IsValid() bool {
	for _, candidate := range validDeliveryMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseDeliveryMethod converts raw input into DeliveryMethod.
func ParseDeliveryMethod(value string) (DeliveryMethod, error) {
	for _, candidate := range validDeliveryMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery method %q", value)
}

package domain

import "fmt"

// Platform identifies a supported messaging platform. The set is closed:
// every switch over Platform handles exactly these three values.
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// Platforms returns all supported platforms.
func Platforms() []Platform {
	return []Platform{PlatformWhatsApp, PlatformFacebook, PlatformInstagram}
}

// ParsePlatform converts a string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformWhatsApp, PlatformFacebook, PlatformInstagram:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unsupported platform: %q", s)
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	_, err := ParsePlatform(string(p))
	return err == nil
}

// UsesMessengerAPI reports whether the platform speaks the Messenger Send API
// shape. Facebook and Instagram share page credentials and payload format.
func (p Platform) UsesMessengerAPI() bool {
	return p == PlatformFacebook || p == PlatformInstagram
}

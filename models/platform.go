package models

// Platform identifies the native billing system a purchase flows through.
// The value is sent verbatim in the X-Platform header.
type Platform string

const (
	PlatformGoogle Platform = "GOOGLE"
	PlatformIOS    Platform = "IOS"
)

// VerifyPath returns the backend path segment used for receipt verification.
func (p Platform) VerifyPath() string {
	switch p {
	case PlatformGoogle:
		return "google"
	case PlatformIOS:
		return "apple"
	}
	return ""
}

func (p Platform) Valid() bool {
	return p == PlatformGoogle || p == PlatformIOS
}

package model

import "strings"

// PhoneKind classifies a phone number using directory-service attribute
// semantics. Classification always follows these semantics regardless of
// which backend supplied the raw digits.
type PhoneKind string

const (
	PhoneDID       PhoneKind = "did"
	PhoneExtension PhoneKind = "extension"
	PhoneMobile    PhoneKind = "mobile"
	PhoneOffice    PhoneKind = "office"
	PhoneUnknown   PhoneKind = "unknown"
)

// Directory attribute names that carry phone numbers. Adapters for the
// non-directory backends tag their numbers with the closest equivalent.
const (
	PhoneAttrTelephone = "telephoneNumber"
	PhoneAttrMobile    = "mobile"
	PhoneAttrOffice    = "otherTelephone"
	PhoneAttrExtension = "extension"
)

// PhoneNumber is a normalized phone number with provenance. Source is the
// backend whose copy won; Origins lists every backend that reported a
// number normalizing to the same value.
type PhoneNumber struct {
	Normalized string    `json:"normalized"`
	Kind       PhoneKind `json:"kind"`
	Source     Backend   `json:"source"`
	Raw        string    `json:"raw"`
	Origins    []Backend `json:"origins,omitempty"`
}

// NormalizePhone normalizes raw digits and classifies the result:
//
//	10 digits            -> "+1" prefix, kind from the attribute
//	11 digits leading 1  -> "+" prefix, kind from the attribute
//	4 digits             -> unchanged, Extension
//	anything else        -> unchanged, Unknown
//
// Formatting characters are stripped before counting digits.
func NormalizePhone(p RawPhone) PhoneNumber {
	digits := digitsOf(p.Raw)

	switch {
	case len(digits) == 10:
		return PhoneNumber{Normalized: "+1" + digits, Kind: kindForAttribute(p.Attribute), Source: p.Source, Raw: p.Raw}
	case len(digits) == 11 && digits[0] == '1':
		return PhoneNumber{Normalized: "+" + digits, Kind: kindForAttribute(p.Attribute), Source: p.Source, Raw: p.Raw}
	case len(digits) == 4:
		return PhoneNumber{Normalized: digits, Kind: PhoneExtension, Source: p.Source, Raw: p.Raw}
	default:
		return PhoneNumber{Normalized: p.Raw, Kind: PhoneUnknown, Source: p.Source, Raw: p.Raw}
	}
}

func kindForAttribute(attr string) PhoneKind {
	switch attr {
	case PhoneAttrMobile:
		return PhoneMobile
	case PhoneAttrOffice:
		return PhoneOffice
	case PhoneAttrExtension:
		return PhoneExtension
	case PhoneAttrTelephone:
		return PhoneDID
	default:
		return PhoneDID
	}
}

func digitsOf(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

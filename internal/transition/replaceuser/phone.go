package replaceuser

import (
	"github.com/nyaruka/phonenumbers"
)

// normalizePhone validates raw as a phone number usable for SMS login and
// returns it in E.164 form. Numbers without a leading "+" are read in the
// region of defaultCountryCode; without one they cannot be resolved.
func normalizePhone(raw any, defaultCountryCode int) (string, bool) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}

	region := "ZZ"
	if defaultCountryCode > 0 {
		region = phonenumbers.GetRegionCodeForCountryCode(defaultCountryCode)
	}

	num, err := phonenumbers.Parse(s, region)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

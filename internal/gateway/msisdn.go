package gateway

import (
	"regexp"
	"strings"
)

var kenyanMSISDN = regexp.MustCompile(`^254[17][0-9]{8}$`)

// NormalizeMSISDN converts the local and international spellings of a
// Kenyan mobile number to 2547XXXXXXXX / 2541XXXXXXXX.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		p = "254" + p
	}

	if !kenyanMSISDN.MatchString(p) {
		return "", ErrInvalidDestination
	}
	return p, nil
}

package phone

import "strings"

// ResolveTarget turns a dial string into a SIP URI. Strings that already
// carry a sip: or sips: scheme are returned unchanged; anything else is
// treated as a user part at domain, or at proxy when domain is empty.
func ResolveTarget(target, domain, proxy string) string {
	if strings.HasPrefix(target, "sip:") || strings.HasPrefix(target, "sips:") {
		return target
	}
	if domain == "" {
		domain = proxy
	}
	return "sip:" + target + "@" + domain
}

package integration

import "strings"

// maskAddress hides most of the local part of an e-mail address for logging.
func maskAddress(address string) string {
	address = strings.TrimSpace(strings.ToLower(address))
	if address == "" {
		return ""
	}
	local, domain, ok := strings.Cut(address, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return "***"
	}
	if len(local) <= 2 {
		local = local[:1] + "***"
	} else {
		local = local[:1] + "***" + local[len(local)-1:]
	}
	return local + "@" + domain
}

func maskAddresses(addresses []string) []string {
	masked := make([]string, 0, len(addresses))
	for _, address := range addresses {
		masked = append(masked, maskAddress(address))
	}
	return masked
}

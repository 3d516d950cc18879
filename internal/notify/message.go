package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatBreakerMessage lists the tripped assets, capped at ten lines.
func FormatBreakerMessage(assets []string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Tripped: %d assets\n", len(assets)))
	limit := 10
	if len(assets) < limit {
		limit = len(assets)
	}
	for i := 0; i < limit; i++ {
		sb.WriteString(fmt.Sprintf("- %s\n", assets[i]))
	}
	if len(assets) > 10 {
		sb.WriteString(fmt.Sprintf("... and %d more", len(assets)-10))
	}
	sb.WriteString(fmt.Sprintf("\nAt: %s", time.Now().UTC().Format(time.RFC3339)))

	return sb.String()
}

// FormatOverrideMessage describes an emergency price change.
func FormatOverrideMessage(asset, price, actor string) string {
	return fmt.Sprintf("Asset: %s\nPrice: %s\nBy: %s", asset, price, actor)
}

// FormatHaltMessage describes a halt or its clearance.
func FormatHaltMessage(asset, reason string) string {
	return fmt.Sprintf("Asset: %s\nReason: %s", asset, reason)
}

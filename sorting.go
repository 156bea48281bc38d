package main

import (
	"sort"

	"github.com/sweetbit-io/dispenser-setup/dispenser"
)

// sortNetworks sorts a copy of networks for printing.
// The sorting order is:
// 1. Networks with a signal reading first, strongest first.
// 2. By SSID alphabetically.
func sortNetworks(networks []dispenser.Network) []dispenser.Network {
	sorted := append([]dispenser.Network(nil), networks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if (sorted[i].Strength > 0) != (sorted[j].Strength > 0) {
			return sorted[i].Strength > 0
		}
		if sorted[i].Strength != sorted[j].Strength {
			return sorted[i].Strength > sorted[j].Strength
		}
		return sorted[i].SSID < sorted[j].SSID
	})
	return sorted
}

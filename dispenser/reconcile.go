package dispenser

// Reconcile folds one notification into the network list. An entry with the
// same SSID is replaced in place; otherwise the network is appended. The
// input slice is never modified, the result is always a fresh slice.
func Reconcile(networks []Network, n Network) []Network {
	out := make([]Network, len(networks), len(networks)+1)
	copy(out, networks)
	for i := range out {
		if out[i].SSID == n.SSID {
			out[i] = n
			return out
		}
	}
	return append(out, n)
}

// FindNetwork returns the network with the given SSID.
func FindNetwork(networks []Network, ssid string) (Network, bool) {
	for _, n := range networks {
		if n.SSID == ssid {
			return n, true
		}
	}
	return Network{}, false
}

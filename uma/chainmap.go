package uma

import "strings"

// ChainMap is the immutable chain-name to settlement-layer mapping injected at
// startup. Lookups are case-insensitive.
type ChainMap struct {
	byName map[string]ChainInfo
	native string
}

// NewChainMap normalises and freezes a chain mapping. nativeLayer names the
// shared-custody layer whose stored addresses double as settlement identities.
func NewChainMap(entries map[string]ChainInfo, nativeLayer string) ChainMap {
	byName := make(map[string]ChainInfo, len(entries))
	for name, info := range entries {
		info.Layer = strings.ToLower(strings.TrimSpace(info.Layer))
		info.Asset = strings.ToUpper(strings.TrimSpace(info.Asset))
		byName[strings.ToLower(strings.TrimSpace(name))] = info
	}
	return ChainMap{byName: byName, native: strings.ToLower(strings.TrimSpace(nativeLayer))}
}

// Lookup resolves the mapping entry for a chain name.
func (m ChainMap) Lookup(chain string) (ChainInfo, bool) {
	info, ok := m.byName[strings.ToLower(strings.TrimSpace(chain))]
	return info, ok
}

// Native returns the shared-custody layer name.
func (m ChainMap) Native() string {
	return m.native
}

// LayerAsset returns the mapping entry whose settlement layer matches. Chain
// names and layer names coincide for every mapping this service ships, but the
// search keys on the layer field so renamed chains keep resolving.
func (m ChainMap) LayerAsset(layer string) (ChainInfo, bool) {
	normalized := strings.ToLower(strings.TrimSpace(layer))
	if info, ok := m.byName[normalized]; ok && info.Layer == normalized {
		return info, true
	}
	for _, info := range m.byName {
		if info.Layer == normalized {
			return info, true
		}
	}
	return ChainInfo{}, false
}

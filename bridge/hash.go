package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"roomy.chat/sid"
	"roomy.chat/wire"
)

// profileFingerprint hashes the Discord-side fields a profile sync
// cares about, so an unchanged profile never re-emits updateProfile.
func profileFingerprint(username, globalName, avatar string) string {
	return fingerprint(struct {
		Username, GlobalName, Avatar string
	}{username, globalName, avatar})
}

type normalizedCategory struct {
	Name     string   `json:"name"`
	Children []string `json:"children"`
}

// sidebarFingerprint hashes a normalized sidebar structure — categories
// sorted by name, children sorted within each category — so applying
// the same structure twice never re-triggers a structural sync write.
func sidebarFingerprint(categories []wire.SidebarCategory) string {
	normalized := make([]normalizedCategory, len(categories))
	for i, c := range categories {
		children := idStrings(c.Children)
		sort.Strings(children)
		normalized[i] = normalizedCategory{Name: c.Name, Children: children}
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Name < normalized[j].Name })
	return fingerprint(normalized)
}

func idStrings(ids []sid.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

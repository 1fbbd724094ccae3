package comments

import "strings"

// keyReplacer maps every character the store forbids in keys to a fixed placeholder token.
// A path that already contains a placeholder token can collide with another path's encoding.
var keyReplacer = strings.NewReplacer(
	`\`, "_slash_",
	".", "_dot_",
	"#", "_hash_",
	"$", "_dollar_",
	"[", "_lbracket_",
	"]", "_rbracket_",
	"/", "_fwslash_",
)

const illegalKeyCharacters = `\.#$[]/`

// NormalizeKey maps an arbitrary resource path to a storage-safe key.
func NormalizeKey(resource string) string {
	return keyReplacer.Replace(resource)
}

// ValidKey reports whether key can be used to address a collection in the store.
func ValidKey(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	return !strings.ContainsAny(key, illegalKeyCharacters)
}

package compiler

import "strings"

var nameDecoder = strings.NewReplacer(
	"$DOT$", ".",
	"$SLASH$", "/",
	"$BACKSLASH$", `\`,
)

// DecodeName restores the characters storage could not keep in module
// names.
func DecodeName(name string) string {
	return nameDecoder.Replace(name)
}

package compiler

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// bootstrapCache holds minified bootstrap sources keyed by the SHA-256 of
// their input, shared by every context in the process.
var bootstrapCache sync.Map // [32]byte -> string

// Bootstrap returns the prepared form of a host bootstrap script. The
// first call per distinct source transforms it; later calls hit the cache.
func Bootstrap(src string) (string, error) {
	key := sha256.Sum256([]byte(src))
	if v, ok := bootstrapCache.Load(key); ok {
		return v.(string), nil
	}
	result := api.Transform(src, api.TransformOptions{
		Loader:           api.LoaderJS,
		Target:           api.ESNext,
		MinifyWhitespace: true,
		LegalComments:    api.LegalCommentsNone,
		LogLevel:         api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("preparing bootstrap: %s", formatMessages(result.Errors))
	}
	code := string(result.Code)
	actual, _ := bootstrapCache.LoadOrStore(key, code)
	return actual.(string), nil
}

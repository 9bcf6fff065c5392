//go:build !(darwin || linux)

package govqmt

import "fmt"

func openLibrary(path string) (nativeLibrary, error) {
	return nil, fmt.Errorf("%w: cannot load %s", ErrUnsupportedPlatform, path)
}

package testutils

import (
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/spf13/afero"
)

// Fail if two values are different.
//
// Does not stop the test.
func AssertEqual[T comparable](t testing.TB, actual, expected T, explanation string) {
	t.Helper()
	if expected != actual {
		t.Errorf("got: %+v; want: %+v (%s)", actual, expected, explanation)
		if reflect.ValueOf(expected).Kind() == reflect.Pointer {
			t.Error("Warning: you're comparing two pointers -- pointers are only equal if they point to the same physical object")
		}
	}
}

func AssertEqualArrays[T comparable](t testing.TB, actual, expected []T, explanation string) {
	t.Helper()
	AssertEqual(t, len(actual), len(expected), fmt.Sprintf("%s - invalid length", explanation))
	for i := 0; i < len(actual) && i < len(expected); i++ {
		AssertEqual(t, actual[i], expected[i], fmt.Sprintf("%s - invalid item %d", explanation, i))
	}
}

func AssertRegexp(t testing.TB, actual string, pattern *regexp.Regexp, explanation string) {
	t.Helper()
	if pattern.FindStringIndex(actual) != nil {
		return
	}
	t.Errorf("got: %+v; expected: %+v (%s)", actual, pattern, explanation)
}

// Create an in-memory filesystem holding `files` (path => content).
//
// Stops the test if a file cannot be written.
func MemFs(t testing.TB, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("cannot create directory for %s: %s", path, err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("cannot write %s: %s", path, err)
		}
	}
	return fs
}

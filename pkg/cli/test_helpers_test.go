package cli

import (
	"os"
	"path/filepath"
	"testing"
)

// captureStdout points os.Stdout at a temp file. The returned func restores
// stdout and yields everything written in between.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	f, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	if err != nil {
		t.Fatal(err)
	}
	saved := os.Stdout
	os.Stdout = f
	t.Cleanup(func() { os.Stdout = saved })

	return func() string {
		os.Stdout = saved
		_ = f.Close()
		data, err := os.ReadFile(f.Name())
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}
}

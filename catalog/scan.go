package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// ScanFolder lists the sample files directly inside dir whose names parse.
// Audio properties are left zero; callers probe the files before Build.
// Subdirectories and files with unparseable names are ignored.
func ScanFolder(dir string) ([]SampleFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan sample folder: %w", err)
	}

	files := make([]SampleFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !HasAudioExtension(e.Name()) {
			continue
		}
		note, vel, rr, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SampleFile{
			Path:       filepath.Join(dir, e.Name()),
			NativeNote: note,
			Velocity:   vel,
			RoundRobin: rr,
			SizeBytes:  info.Size(),
			ModTime:    info.ModTime(),
		})
	}
	return files, nil
}

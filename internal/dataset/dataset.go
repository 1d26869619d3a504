package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownie44l1/schisto-cnn/internal/config"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".ppm":  true,
	".tif":  true,
	".tiff": true,
}

// Sample is one image file and the index of its class.
type Sample struct {
	Path  string
	Label int
}

// Set is an ordered labeled image set discovered from a directory-per-class
// layout. Samples are ordered by class index, then by file name.
type Set struct {
	Root    string
	Classes []string
	Samples []Sample
}

// Discover walks the immediate subdirectories of root. Each subdirectory is a
// class; class indices follow the sorted directory names.
func Discover(root string) (*Set, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, config.Errorf("data directory %s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, config.Errorf("data directory %s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	set := &Set{Root: root}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			set.Classes = append(set.Classes, e.Name())
		}
	}
	sort.Strings(set.Classes)
	if len(set.Classes) == 0 {
		return nil, config.Errorf("no class directories under %s", root)
	}

	for label, class := range set.Classes {
		files, err := listImages(filepath.Join(root, class))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			set.Samples = append(set.Samples, Sample{Path: f, Label: label})
		}
	}
	if len(set.Samples) == 0 {
		return nil, config.Errorf("no images found under %s", root)
	}
	return set, nil
}

// listImages returns image files below dir. Directories are visited in
// lexical order of their paths and files are sorted within each directory,
// so a directory's own files come before those of its subdirectories.
func listImages(dir string) ([]string, error) {
	var dirs []string
	byDir := map[string][]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			parent := filepath.Dir(path)
			byDir[parent] = append(byDir[parent], d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list images in %s: %w", dir, err)
	}

	sort.Strings(dirs)
	var files []string
	for _, d := range dirs {
		names := byDir[d]
		sort.Strings(names)
		for _, name := range names {
			files = append(files, filepath.Join(d, name))
		}
	}
	return files, nil
}

func (s *Set) Len() int { return len(s.Samples) }

// Labels returns the class index of every sample, in order.
func (s *Set) Labels() []int {
	labels := make([]int, len(s.Samples))
	for i, sm := range s.Samples {
		labels[i] = sm.Label
	}
	return labels
}

// Files returns sample paths relative to the set root.
func (s *Set) Files() []string {
	files := make([]string, len(s.Samples))
	for i, sm := range s.Samples {
		rel, err := filepath.Rel(s.Root, sm.Path)
		if err != nil {
			rel = sm.Path
		}
		files[i] = filepath.ToSlash(rel)
	}
	return files
}

// SameClasses fails unless both sets map class names to indices identically.
func SameClasses(a, b *Set) error {
	if len(a.Classes) != len(b.Classes) {
		return config.Errorf("%s has %d classes, %s has %d",
			a.Root, len(a.Classes), b.Root, len(b.Classes))
	}
	for i := range a.Classes {
		if a.Classes[i] != b.Classes[i] {
			return config.Errorf("class %d is %q in %s but %q in %s",
				i, a.Classes[i], a.Root, b.Classes[i], b.Root)
		}
	}
	return nil
}

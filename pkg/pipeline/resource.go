package pipeline

import (
	"path"
	"path/filepath"
	"strings"
)

// Resource is a single file flowing through a pipeline
type Resource struct {
	// Path identifies the resource, usually the absolute path of the source file
	Path string
	// Base is the directory Name is relative to
	Base string
	// Name is the slash separated output name relative to the destination
	Name     string
	Contents []byte
	// Index is the position in the Matcher's result and determines the order of aggregated output
	Index int
}

// NewResource creates a resource for the file at p whose output name is relative to base.
func NewResource(p, base string, index int) *Resource {
	name, err := filepath.Rel(base, p)
	if err != nil || strings.HasPrefix(name, "..") {
		name = filepath.Base(p)
	}

	return &Resource{
		Path:  p,
		Base:  base,
		Name:  filepath.ToSlash(name),
		Index: index,
	}
}

// Clone returns a shallow copy. Contents are shared and must be replaced, not modified.
func (r *Resource) Clone() *Resource {
	clone := *r
	return &clone
}

// Ext returns the extension of the output name including the dot
func (r *Resource) Ext() string {
	return path.Ext(r.Name)
}

// ReplaceExt swaps the extension of the output name
func (r *Resource) ReplaceExt(ext string) {
	r.Name = strings.TrimSuffix(r.Name, path.Ext(r.Name)) + ext
}

func (r *Resource) String() string {
	return r.Path
}

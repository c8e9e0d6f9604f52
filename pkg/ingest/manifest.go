package ingest

import (
	"fmt"
	"io"
	"path"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest is a YAML ingest document. File paths are relative to the
// manifest's directory.
//
//	identifier: bib-123
//	files:
//	  - id: f1
//	    label: Page 1
//	    path: scans/p1.tif
//	    mime_type: image/tiff
//	structure:
//	  nodes:
//	    - label: Chapter 1
//	      proxy: f1
//
// A manifest with parts is multi-part; each part has its own files and
// structure.
type Manifest struct {
	Identifier *string        `yaml:"identifier"`
	FileList   []ManifestFile `yaml:"files"`
	TOC        *ManifestNode  `yaml:"structure"`
	Parts      []ManifestPart `yaml:"parts"`

	fs  afero.Fs
	dir string
}

type ManifestFile struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Path     string `yaml:"path"`
	MimeType string `yaml:"mime_type"`
}

type ManifestNode struct {
	Label string          `yaml:"label"`
	Proxy *string         `yaml:"proxy"`
	Nodes []*ManifestNode `yaml:"nodes"`
}

type ManifestPart struct {
	ID        string         `yaml:"id"`
	Files     []ManifestFile `yaml:"files"`
	Structure *ManifestNode  `yaml:"structure"`
}

var _ Document = (*Manifest)(nil)

// LoadManifest reads and validates the manifest at name.
func LoadManifest(fsys afero.Fs, name string) (*Manifest, error) {
	data, err := afero.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(fsys, path.Dir(name), data)
}

// ParseManifest decodes a manifest whose file paths are relative to dir.
func ParseManifest(fsys afero.Fs, dir string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.fs = fsys
	m.dir = dir
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Parts) > 0 && (len(m.FileList) > 0 || m.TOC != nil) {
		return fmt.Errorf("manifest: files and structure belong to parts in a multi-part manifest")
	}
	check := func(where string, files []ManifestFile) error {
		seen := map[string]bool{}
		for _, f := range files {
			if f.ID == "" || f.Path == "" {
				return fmt.Errorf("manifest: %s: file needs id and path", where)
			}
			if seen[f.ID] {
				return fmt.Errorf("manifest: %s: duplicate file id %q", where, f.ID)
			}
			seen[f.ID] = true
		}
		return nil
	}
	if err := check("files", m.FileList); err != nil {
		return err
	}
	parts := map[string]bool{}
	for _, p := range m.Parts {
		if p.ID == "" || parts[p.ID] {
			return fmt.Errorf("manifest: part ids must be unique and non-empty")
		}
		parts[p.ID] = true
		if err := check("part "+p.ID, p.Files); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manifest) IsMultiPart() bool          { return len(m.Parts) > 0 }
func (m *Manifest) PrimaryIdentifier() *string { return m.Identifier }
func (m *Manifest) Files() []FileDescriptor    { return m.descriptors(m.FileList) }
func (m *Manifest) Structure() *StructureNode  { return convertNode(m.TOC) }

func (m *Manifest) PartIDs() []string {
	ids := make([]string, len(m.Parts))
	for i, p := range m.Parts {
		ids[i] = p.ID
	}
	return ids
}

func (m *Manifest) part(id string) *ManifestPart {
	for i := range m.Parts {
		if m.Parts[i].ID == id {
			return &m.Parts[i]
		}
	}
	return nil
}

func (m *Manifest) FilesForPart(id string) []FileDescriptor {
	if p := m.part(id); p != nil {
		return m.descriptors(p.Files)
	}
	return nil
}

func (m *Manifest) StructureForPart(id string) *StructureNode {
	if p := m.part(id); p != nil {
		return convertNode(p.Structure)
	}
	return nil
}

func (m *Manifest) descriptors(files []ManifestFile) []FileDescriptor {
	out := make([]FileDescriptor, len(files))
	for i, f := range files {
		full := f.Path
		if !path.IsAbs(full) {
			full = path.Join(m.dir, full)
		}
		out[i] = FileDescriptor{
			ID:       f.ID,
			Label:    f.Label,
			Filename: path.Base(f.Path),
			MimeType: f.MimeType,
			Open: func() (io.ReadCloser, error) {
				return m.fs.Open(full)
			},
		}
	}
	return out
}

// convertNode copies a manifest tree with an explicit stack.
func convertNode(root *ManifestNode) *StructureNode {
	if root == nil {
		return nil
	}
	type pair struct {
		src *ManifestNode
		dst *StructureNode
	}
	out := &StructureNode{Label: root.Label, Proxy: root.Proxy}
	stack := []pair{{root, out}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range p.src.Nodes {
			if child == nil {
				continue
			}
			n := &StructureNode{Label: child.Label, Proxy: child.Proxy}
			p.dst.Nodes = append(p.dst.Nodes, n)
			stack = append(stack, pair{child, n})
		}
	}
	return out
}

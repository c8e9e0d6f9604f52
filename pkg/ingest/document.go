// ABOUTME: Contract for already-parsed ingest documents
// ABOUTME: Files and structure are addressed by document-local ids

package ingest

import "io"

// Document is an external record supplying files and structure. Multi-part
// documents describe their files and structure per part.
type Document interface {
	IsMultiPart() bool
	PrimaryIdentifier() *string
	Files() []FileDescriptor
	Structure() *StructureNode
	PartIDs() []string
	FilesForPart(partID string) []FileDescriptor
	StructureForPart(partID string) *StructureNode
}

// FileDescriptor names one file of a document. ID is local to the document.
type FileDescriptor struct {
	ID       string
	Label    string
	Filename string
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// StructureNode is a document-local table of contents entry. Proxy holds a
// FileDescriptor ID.
type StructureNode struct {
	Label string
	Proxy *string
	Nodes []*StructureNode
}

// partView presents one part of a multi-part document as a single-part one.
type partView struct {
	doc  Document
	part string
}

func (p partView) IsMultiPart() bool                      { return false }
func (p partView) PrimaryIdentifier() *string             { return nil }
func (p partView) Files() []FileDescriptor                { return p.doc.FilesForPart(p.part) }
func (p partView) Structure() *StructureNode              { return p.doc.StructureForPart(p.part) }
func (p partView) PartIDs() []string                      { return nil }
func (p partView) FilesForPart(string) []FileDescriptor   { return nil }
func (p partView) StructureForPart(string) *StructureNode { return nil }

// Package model declares the concrete resource types stored by folio.
package model

import "github.com/nainya/folio/pkg/resource"

// Model tags.
const (
	BookModel       = "Book"
	FileSetModel    = "FileSet"
	CollectionModel = "Collection"
)

// Attribute names shared across models.
const (
	Title                    = "title"
	Author                   = "author"
	Label                    = "label"
	MemberIDs                = resource.MemberIDs
	MemberOf                 = "a_member_of"
	ViewingHint              = "viewing_hint"
	ViewingDirection         = "viewing_direction"
	ThumbnailID              = "thumbnail_id"
	RepresentativeID         = "representative_id"
	StartCanvas              = "start_canvas"
	Structure                = "structure"
	SourceMetadataIdentifier = "source_metadata_identifier"
	FileIdentifiers          = "file_identifiers"
	OriginalFilename         = "original_filename"
	MimeType                 = "mime_type"
)

func set(name string) resource.Attribute {
	return resource.Attribute{Name: name, Kind: resource.Set}
}

func seq(name string) resource.Attribute {
	return resource.Attribute{Name: name, Kind: resource.Sequence}
}

var (
	// Book is a composite work: ordered members plus a table of contents.
	Book = resource.NewSchema(BookModel,
		set(Title),
		set(Author),
		seq(MemberIDs),
		set(MemberOf),
		set(ViewingHint),
		set(ViewingDirection),
		set(ThumbnailID),
		set(RepresentativeID),
		set(StartCanvas),
		seq(Structure),
		set(SourceMetadataIdentifier),
	)

	// FileSet wraps the stored files of one member.
	FileSet = resource.NewSchema(FileSetModel,
		set(Title),
		set(Label),
		seq(MemberIDs),
		set(FileIdentifiers),
		set(OriginalFilename),
		set(MimeType),
	)

	// Collection groups resources through their a_member_of attribute.
	Collection = resource.NewSchema(CollectionModel,
		set(Title),
		set(Author),
	)
)

// Register adds every model to reg.
func Register(reg *resource.TypeRegistry) error {
	for _, s := range []*resource.Schema{Book, FileSet, Collection} {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// Types returns a registry holding every model.
func Types() *resource.TypeRegistry {
	reg := resource.NewTypeRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

func NewBook() *resource.Resource       { return Book.New() }
func NewFileSet() *resource.Resource    { return FileSet.New() }
func NewCollection() *resource.Resource { return Collection.New() }

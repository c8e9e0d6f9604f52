// ABOUTME: Builds and persists resource graphs from ingest documents
// ABOUTME: Uploads files, appends file sets in order and remaps structure proxies

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nainya/folio/pkg/filestore"
	"github.com/nainya/folio/pkg/model"
	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// MainStructureLabel labels the structure built for every ingested book.
const MainStructureLabel = "Main Structure"

// ErrUnresolvedProxy is returned when a structure node names a file the
// document does not declare.
var ErrUnresolvedProxy = errors.New("unresolved structure proxy")

// UnresolvedProxyError carries the document-local id that had no mapping.
type UnresolvedProxyError struct {
	Proxy string
}

func (e *UnresolvedProxyError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnresolvedProxy, e.Proxy)
}

func (e *UnresolvedProxyError) Unwrap() error { return ErrUnresolvedProxy }

// Recorder receives ingest counts. internal/metrics implements it.
type Recorder interface {
	FileIngested()
	ResourceIngested(model string)
}

type nopRecorder struct{}

func (nopRecorder) FileIngested()           {}
func (nopRecorder) ResourceIngested(string) {}

// Ingester persists documents through one persister and one storage adapter.
type Ingester struct {
	persister persistence.Persister
	storage   filestore.Adapter
	logger    zerolog.Logger
	recorder  Recorder
}

type Option func(*Ingester)

func WithLogger(l zerolog.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(in *Ingester) { in.recorder = r }
}

func New(p persistence.Persister, storage filestore.Adapter, opts ...Option) *Ingester {
	in := &Ingester{
		persister: p,
		storage:   storage,
		logger:    zerolog.Nop(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest persists doc and returns the saved root book.
func (in *Ingester) Ingest(ctx context.Context, doc Document) (*resource.Resource, error) {
	if doc.IsMultiPart() {
		return in.ingestMultiPart(ctx, doc)
	}
	return in.ingestSingle(ctx, doc)
}

func (in *Ingester) ingestMultiPart(ctx context.Context, doc Document) (*resource.Resource, error) {
	parent := model.NewBook()
	setIdentifier(parent, doc)

	for _, part := range doc.PartIDs() {
		child, err := in.ingestSingle(ctx, partView{doc: doc, part: part})
		if err != nil {
			return nil, fmt.Errorf("part %s: %w", part, err)
		}
		parent.Append(model.MemberIDs, child.ID)
		in.logger.Debug().Str("part", part).Str("id", child.ID.String()).Msg("part ingested")
	}

	saved, err := in.persister.Save(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("save parent: %w", err)
	}
	in.recorder.ResourceIngested(saved.InternalModel)
	in.logger.Info().
		Str("id", saved.ID.String()).
		Int("parts", len(doc.PartIDs())).
		Msg("multi-part document ingested")
	return saved, nil
}

func (in *Ingester) ingestSingle(ctx context.Context, doc Document) (*resource.Resource, error) {
	if err := checkProxies(doc.Structure(), doc.Files()); err != nil {
		return nil, err
	}

	book := model.NewBook()
	setIdentifier(book, doc)

	local := map[string]resource.ID{}
	for _, fd := range doc.Files() {
		fs, err := in.appendFile(ctx, fd)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", fd.ID, err)
		}
		book.Append(model.MemberIDs, fs.ID)
		local[fd.ID] = fs.ID
	}

	nodes, err := remap(doc.Structure(), local)
	if err != nil {
		return nil, err
	}
	book.Set(model.Structure, &resource.Structure{Label: []string{MainStructureLabel}, Nodes: nodes})

	saved, err := in.persister.Save(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("save book: %w", err)
	}
	in.recorder.ResourceIngested(saved.InternalModel)
	in.logger.Info().
		Str("id", saved.ID.String()).
		Int("files", len(local)).
		Msg("document ingested")
	return saved, nil
}

func setIdentifier(r *resource.Resource, doc Document) {
	if id := doc.PrimaryIdentifier(); id != nil {
		r.Set(model.SourceMetadataIdentifier, resource.Text(*id))
	}
}

// appendFile saves a file set, uploads the content with the file set as
// owner and saves again with the file identifier.
func (in *Ingester) appendFile(ctx context.Context, fd FileDescriptor) (*resource.Resource, error) {
	fs := model.NewFileSet()
	if fd.Label != "" {
		fs.Set(model.Label, resource.Text(fd.Label))
	}
	filename := fd.Filename
	if filename == "" {
		filename = fd.ID
	}
	fs.Set(model.OriginalFilename, resource.Text(filename))
	if fd.MimeType != "" {
		fs.Set(model.MimeType, resource.Text(fd.MimeType))
	}

	if fd.Open == nil {
		return nil, fmt.Errorf("no content")
	}
	fs, err := in.persister.Save(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("save file set: %w", err)
	}

	rc, err := fd.Open()
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	file, err := in.storage.Upload(ctx, filestore.Upload{Filename: filename, Reader: rc}, fs)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := file.Close(); err != nil {
		in.logger.Warn().Err(err).Str("content", file.ID.String()).Msg("close uploaded file")
	}

	fs.Set(model.FileIdentifiers, file.ID)
	if fs, err = in.persister.Save(ctx, fs); err != nil {
		return nil, fmt.Errorf("save file set: %w", err)
	}
	in.recorder.FileIngested()
	in.recorder.ResourceIngested(fs.InternalModel)
	in.logger.Debug().
		Str("file", fd.ID).
		Str("file_set", fs.ID.String()).
		Str("content", file.ID.String()).
		Msg("file appended")
	return fs, nil
}

// checkProxies reports the first proxy in root that names no declared
// file, before anything is saved or uploaded.
func checkProxies(root *StructureNode, files []FileDescriptor) error {
	if root == nil {
		return nil
	}
	declared := make(map[string]struct{}, len(files))
	for _, fd := range files {
		declared[fd.ID] = struct{}{}
	}
	stack := []remapFrame{{src: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range f.src.Nodes {
			if child == nil {
				continue
			}
			if f.depth+1 > resource.MaxStructureDepth {
				return fmt.Errorf("%w: %d", resource.ErrStructureTooDeep, f.depth+1)
			}
			if child.Proxy != nil {
				if _, ok := declared[*child.Proxy]; !ok {
					return &UnresolvedProxyError{Proxy: *child.Proxy}
				}
			}
			stack = append(stack, remapFrame{src: child, depth: f.depth + 1})
		}
	}
	return nil
}

type remapFrame struct {
	src   *StructureNode
	dst   *resource.Node
	depth int
}

// remap copies the children of root into resource nodes, replacing each
// document-local proxy with its persisted id. It walks with an explicit
// stack bounded by resource.MaxStructureDepth.
func remap(root *StructureNode, local map[string]resource.ID) ([]*resource.Node, error) {
	if root == nil {
		return nil, nil
	}
	holder := &resource.Node{}
	stack := []remapFrame{{src: root, dst: holder}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range f.src.Nodes {
			if child == nil {
				continue
			}
			if f.depth+1 > resource.MaxStructureDepth {
				return nil, fmt.Errorf("%w: %d", resource.ErrStructureTooDeep, f.depth+1)
			}
			n := &resource.Node{}
			if child.Label != "" {
				n.Label = []string{child.Label}
			}
			if child.Proxy != nil {
				id, ok := local[*child.Proxy]
				if !ok {
					return nil, &UnresolvedProxyError{Proxy: *child.Proxy}
				}
				n.Proxy = id
			}
			f.dst.Nodes = append(f.dst.Nodes, n)
			stack = append(stack, remapFrame{src: child, dst: n, depth: f.depth + 1})
		}
	}
	return holder.Nodes, nil
}

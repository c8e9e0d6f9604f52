// ABOUTME: RDF graph form of a resource: typed terms and triples
// ABOUTME: Sequences become rdf:_n containers, structures rdf:JSON literals

package triple

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/folio/pkg/persistence"
	"github.com/nainya/folio/pkg/resource"
)

// Predicates.
const (
	PredicateType      = "rdf:type"
	PredicateCreatedAt = "folio:created_at"
	PredicateUpdatedAt = "folio:updated_at"
	attributeNS        = "folio:"
	memberNS           = "rdf:_"
)

// TermKind distinguishes node and literal terms.
type TermKind uint64

const (
	TermIRI       TermKind = 1 // reference to a resource or file
	TermLiteral   TermKind = 2 // plain or language-tagged string
	TermJSON      TermKind = 3 // rdf:JSON literal holding a structure
	TermContainer TermKind = 4 // rdf:Seq node holding an ordered attribute
	TermDateTime  TermKind = 5 // xsd:dateTime
)

// Term is an RDF node or literal.
type Term struct {
	Kind     TermKind
	Value    string
	Language string
}

// Triple is one statement. Subjects are resource ids or container nodes.
type Triple struct {
	Subject   string
	Predicate string
	Object    Term
}

// Graph is the native form of one resource.
type Graph []Triple

// Factory converts between resources and graphs.
type Factory struct {
	types *resource.TypeRegistry
}

var _ persistence.ResourceFactory[Graph] = (*Factory)(nil)

func NewFactory(types *resource.TypeRegistry) *Factory {
	return &Factory{types: types}
}

// containerNode names the rdf:Seq node of an ordered attribute.
func containerNode(id resource.ID, attr string) string {
	return id.String() + "#" + attr
}

func memberPredicate(n int) string {
	return memberNS + strconv.Itoa(n)
}

func memberIndex(predicate string) (int, bool) {
	if !strings.HasPrefix(predicate, memberNS) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(predicate, memberNS))
	return n, err == nil && n > 0
}

func toTerm(v resource.Value) (Term, error) {
	switch v := v.(type) {
	case resource.ID:
		return Term{Kind: TermIRI, Value: v.String()}, nil
	case resource.Literal:
		return Term{Kind: TermLiteral, Value: v.Text, Language: v.Language}, nil
	case *resource.Structure:
		data, err := resource.MarshalStructure(v)
		if err != nil {
			return Term{}, err
		}
		return Term{Kind: TermJSON, Value: string(data)}, nil
	}
	return Term{}, fmt.Errorf("unsupported value %T", v)
}

func fromTerm(t Term) (resource.Value, error) {
	switch t.Kind {
	case TermIRI:
		return resource.ID(t.Value), nil
	case TermLiteral:
		return resource.Literal{Text: t.Value, Language: t.Language}, nil
	case TermJSON:
		return resource.ParseStructure([]byte(t.Value))
	}
	return nil, fmt.Errorf("term kind %d is not a value", t.Kind)
}

// FromResource produces the triples of r in a stable order.
func (f *Factory) FromResource(r *resource.Resource) (Graph, error) {
	if r.ID.IsZero() {
		return nil, fmt.Errorf("triple: resource has no id")
	}
	if _, err := f.types.Lookup(r.InternalModel); err != nil {
		return nil, err
	}

	s := r.ID.String()
	g := Graph{{Subject: s, Predicate: PredicateType, Object: Term{Kind: TermIRI, Value: r.InternalModel}}}
	if !r.CreatedAt.IsZero() {
		g = append(g, Triple{s, PredicateCreatedAt, Term{Kind: TermDateTime, Value: r.CreatedAt.UTC().Format(time.RFC3339Nano)}})
	}
	if !r.UpdatedAt.IsZero() {
		g = append(g, Triple{s, PredicateUpdatedAt, Term{Kind: TermDateTime, Value: r.UpdatedAt.UTC().Format(time.RFC3339Nano)}})
	}

	for _, name := range r.Names() {
		if strings.ContainsAny(name, "#:") {
			return nil, fmt.Errorf("triple: attribute name %q is not a valid local name", name)
		}
		pred := attributeNS + name
		subject := s
		if r.Kind(name) == resource.Sequence {
			node := containerNode(r.ID, name)
			g = append(g, Triple{s, pred, Term{Kind: TermContainer, Value: node}})
			subject = node
		}
		for i, v := range r.Get(name) {
			term, err := toTerm(v)
			if err != nil {
				return nil, fmt.Errorf("triple: attribute %s: %w", name, err)
			}
			p := pred
			if subject != s {
				p = memberPredicate(i + 1)
			}
			g = append(g, Triple{subject, p, term})
		}
	}
	return g, nil
}

// ToResource rebuilds a resource from its triples and those of its
// containers.
func (f *Factory) ToResource(g Graph) (*resource.Resource, error) {
	var subject, model string
	bySubject := map[string][]Triple{}
	for _, t := range g {
		bySubject[t.Subject] = append(bySubject[t.Subject], t)
		if t.Predicate == PredicateType {
			if subject != "" {
				return nil, persistence.Malformed("graph describes more than one resource")
			}
			subject, model = t.Subject, t.Object.Value
		}
	}
	if subject == "" {
		return nil, persistence.Malformed("graph has no %s statement", PredicateType)
	}

	r, err := f.types.New(model)
	if err != nil {
		return nil, err
	}
	r.ID = resource.ID(subject)

	attrs := map[string][]resource.Value{}
	var order []string
	for _, t := range bySubject[subject] {
		switch {
		case t.Predicate == PredicateType:
		case t.Predicate == PredicateCreatedAt:
			if r.CreatedAt, err = parseTime(t.Object); err != nil {
				return nil, err
			}
		case t.Predicate == PredicateUpdatedAt:
			if r.UpdatedAt, err = parseTime(t.Object); err != nil {
				return nil, err
			}
		case strings.HasPrefix(t.Predicate, attributeNS):
			name := strings.TrimPrefix(t.Predicate, attributeNS)
			if _, seen := attrs[name]; !seen {
				order = append(order, name)
			}
			if t.Object.Kind == TermContainer {
				vals, err := containerValues(bySubject[t.Object.Value])
				if err != nil {
					return nil, persistence.Malformed("%s: %v", t.Predicate, err)
				}
				attrs[name] = append(attrs[name], vals...)
				continue
			}
			v, err := fromTerm(t.Object)
			if err != nil {
				return nil, persistence.Malformed("%s: %v", t.Predicate, err)
			}
			attrs[name] = append(attrs[name], v)
		default:
			return nil, persistence.Malformed("unexpected predicate %s", t.Predicate)
		}
	}
	for _, name := range order {
		r.Set(name, attrs[name]...)
	}
	return r, nil
}

func containerValues(ts []Triple) ([]resource.Value, error) {
	type member struct {
		n int
		v resource.Value
	}
	members := make([]member, 0, len(ts))
	for _, t := range ts {
		n, ok := memberIndex(t.Predicate)
		if !ok {
			return nil, fmt.Errorf("container predicate %s", t.Predicate)
		}
		v, err := fromTerm(t.Object)
		if err != nil {
			return nil, err
		}
		members = append(members, member{n, v})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].n < members[j].n })

	out := make([]resource.Value, len(members))
	for i, m := range members {
		out[i] = m.v
	}
	return out, nil
}

func parseTime(t Term) (time.Time, error) {
	if t.Kind != TermDateTime {
		return time.Time{}, persistence.Malformed("timestamp term of kind %d", t.Kind)
	}
	ts, err := time.Parse(time.RFC3339Nano, t.Value)
	if err != nil {
		return time.Time{}, persistence.Malformed("timestamp: %v", err)
	}
	return ts.UTC(), nil
}

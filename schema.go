package reldoc

import (
	"fmt"
	"reflect"
)

// Schema is the process-wide registry of document types, collections, and
// indexes. It is built once with AddDocumentType / AddMapIndex /
// AddReduceIndex and handed to store.New; nothing in the registry changes
// after the Store is constructed.
type Schema struct {
	docsByType  map[string]*docType
	docsByGoTyp map[reflect.Type]*docType
	collections []*Collection
	indexes     []anyIndex
	indexByName map[string]anyIndex
}

// NewSchema creates an empty registry.
func NewSchema() *Schema {
	return &Schema{
		docsByType:  make(map[string]*docType),
		docsByGoTyp: make(map[reflect.Type]*docType),
		indexByName: make(map[string]anyIndex),
	}
}

// docType describes one registered document Go type.
type docType struct {
	typeName   string
	goType     reflect.Type // the pointee struct type
	collection *Collection
	indexes    []anyIndex
}

// DocumentOpts customizes AddDocumentType.
type DocumentOpts struct {
	// Collection overrides DefaultCollection for this document type.
	Collection *Collection
}

// AddDocumentType registers the Go struct type T (the struct itself, not a
// pointer, e.g. AddDocumentType[Account](scm, "Account", DocumentOpts{});
// documents are then passed to Save / Delete as *Account) as a document
// type tracked by the library. typeName is
// the discriminator stored in the Document table's Type column and used to
// key index registration.
func AddDocumentType[T any](scm *Schema, typeName string, opts DocumentOpts) {
	if typeName == "" {
		panic("reldoc: document type name must not be empty")
	}
	if _, dup := scm.docsByType[typeName]; dup {
		panic(fmt.Errorf("reldoc: document type %q already registered", typeName))
	}
	goType := reflect.TypeOf((*T)(nil)).Elem()
	coll := opts.Collection
	if coll == nil {
		coll = DefaultCollection
	}
	dt := &docType{
		typeName:   typeName,
		goType:     goType,
		collection: coll,
	}
	scm.docsByType[typeName] = dt
	scm.docsByGoTyp[goType] = dt
}

func (scm *Schema) docTypeFor(goType reflect.Type) *docType {
	dt := scm.docsByGoTyp[goType]
	if dt == nil {
		panic(fmt.Errorf("reldoc: no document type registered for %v (call AddDocumentType first)", goType))
	}
	return dt
}

func (scm *Schema) docTypeNamed(typeName string) *docType {
	dt := scm.docsByType[typeName]
	if dt == nil {
		panic(fmt.Errorf("reldoc: unknown document type %q", typeName))
	}
	return dt
}

func (scm *Schema) addIndex(idx anyIndex) {
	name := idx.name()
	if _, dup := scm.indexByName[name]; dup {
		panic(&ConfigError{Index: name, Msg: "duplicate index name"})
	}
	scm.indexByName[name] = idx
	scm.indexes = append(scm.indexes, idx)
	dt := scm.docTypeNamed(idx.docTypeName())
	dt.indexes = append(dt.indexes, idx)
}

// IndexNamed looks up a registered index by name.
func (scm *Schema) IndexNamed(name string) (anyIndex, bool) {
	idx, ok := scm.indexByName[name]
	return idx, ok
}

// Indexes returns every registered index, in registration order.
func (scm *Schema) Indexes() []anyIndex {
	return append([]anyIndex(nil), scm.indexes...)
}


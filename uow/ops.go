package uow

import (
	"github.com/goliatone/go-facetcache/entity"
	"github.com/goliatone/go-facetcache/facet"
	"github.com/goliatone/go-facetcache/session"
)

// Op is an operation run through UnitOfWork.Execute.
type Op interface {
	isOp()
}

// GetOp reads one entity. Statement is executed when no cache layer holds
// the entity; a zero Statement makes the read cache only.
type GetOp struct {
	Schema    *entity.Schema
	Facets    []facet.Facet
	Statement session.Statement
}

// QueryOp reads every row returned by Statement.
type QueryOp struct {
	Schema    *entity.Schema
	Statement session.Statement
}

// PutOp writes Entity. Statement is queued for the batch.
type PutOp struct {
	Schema    *entity.Schema
	Entity    any
	Statement session.Statement
}

// DeleteOp deletes the entity addressed by Facets. Statement is queued for
// the batch.
type DeleteOp struct {
	Schema    *entity.Schema
	Facets    []facet.Facet
	Statement session.Statement
}

func (GetOp) isOp()    {}
func (QueryOp) isOp()  {}
func (PutOp) isOp()    {}
func (DeleteOp) isOp() {}

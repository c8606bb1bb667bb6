// Package catalog decodes and serves the issuer rule catalog.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/agnivade/levenshtein"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrUnknownProduct is returned when a product id is not in the catalog.
var ErrUnknownProduct = errors.New("unknown product")

// Catalog is one immutable, versioned snapshot of issuers, products and rules.
type Catalog struct {
	Version  string
	Warnings []domain.Warning

	raw        []byte
	issuers    []domain.Issuer
	issuerIdx  map[string]int
	products   map[string]domain.CardProduct
	productIDs []string
	rules      []domain.Rule
	byIssuer   map[string][]domain.Rule
}

func newCatalog(version string, raw []byte) *Catalog {
	return &Catalog{
		Version:   version,
		raw:       append([]byte(nil), raw...),
		issuerIdx: make(map[string]int),
		products:  make(map[string]domain.CardProduct),
		byIssuer:  make(map[string][]domain.Rule),
	}
}

func (c *Catalog) warn(code, subject, msg string) {
	c.Warnings = append(c.Warnings, domain.Warning{Code: code, Subject: subject, Message: msg})
}

func (c *Catalog) addIssuer(iss domain.Issuer) {
	if i, ok := c.issuerIdx[iss.ID]; ok {
		if c.issuers[i].Name == "" {
			c.issuers[i].Name = iss.Name
		}
		return
	}
	c.issuerIdx[iss.ID] = len(c.issuers)
	c.issuers = append(c.issuers, iss)
}

func (c *Catalog) addProduct(p domain.CardProduct) {
	c.addIssuer(domain.Issuer{ID: p.Issuer})
	c.products[p.ID] = p
	c.productIDs = append(c.productIDs, p.ID)
}

func (c *Catalog) addRule(r domain.Rule) {
	issuer := r.Meta().Issuer
	c.addIssuer(domain.Issuer{ID: issuer})
	c.rules = append(c.rules, r)
	c.byIssuer[issuer] = append(c.byIssuer[issuer], r)
}

// finish sorts lookups once all records are in.
func (c *Catalog) finish() {
	sort.SliceStable(c.issuers, func(i, j int) bool {
		a, b := c.issuers[i], c.issuers[j]
		if name(a) == name(b) {
			return a.ID < b.ID
		}
		return name(a) < name(b)
	})
	for i, iss := range c.issuers {
		c.issuerIdx[iss.ID] = i
	}
	sort.Strings(c.productIDs)
}

func name(iss domain.Issuer) string {
	if iss.Name != "" {
		return iss.Name
	}
	return iss.ID
}

// Raw returns the document the catalog was parsed from.
func (c *Catalog) Raw() []byte {
	return c.raw
}

// Product looks up a card product by id.
func (c *Catalog) Product(id string) (domain.CardProduct, error) {
	p, ok := c.products[id]
	if !ok {
		return domain.CardProduct{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return p, nil
}

// Products returns every product sorted by id.
func (c *Catalog) Products() []domain.CardProduct {
	out := make([]domain.CardProduct, 0, len(c.productIDs))
	for _, id := range c.productIDs {
		out = append(out, c.products[id])
	}
	return out
}

// Rules returns every valid rule in document order.
func (c *Catalog) Rules() []domain.Rule {
	return append([]domain.Rule(nil), c.rules...)
}

// RulesFor returns the rules owned by issuer in document order.
func (c *Catalog) RulesFor(issuer string) []domain.Rule {
	return append([]domain.Rule(nil), c.byIssuer[issuer]...)
}

// Issuers returns the catalog's issuers sorted by display name, ties by id.
func (c *Catalog) Issuers() []domain.Issuer {
	return append([]domain.Issuer(nil), c.issuers...)
}

// IssuerName returns the display name for an issuer id, or the id itself.
func (c *Catalog) IssuerName(id string) string {
	if i, ok := c.issuerIdx[id]; ok {
		return name(c.issuers[i])
	}
	return id
}

// Suggest returns up to n product ids closest to id by edit distance.
func (c *Catalog) Suggest(id string, n int) []string {
	type candidate struct {
		id   string
		dist int
	}
	limit := len(id)/2 + 2

	var cands []candidate
	for _, pid := range c.productIDs {
		if d := levenshtein.ComputeDistance(id, pid); d <= limit {
			cands = append(cands, candidate{pid, d})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist == cands[j].dist {
			return cands[i].id < cands[j].id
		}
		return cands[i].dist < cands[j].dist
	})

	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	out := make([]string, 0, len(cands))
	for _, cd := range cands {
		out = append(out, cd.id)
	}
	return out
}

// Store holds the active catalog snapshot. Readers take one snapshot per
// evaluation; writers swap whole snapshots.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore creates a store holding c, which may be nil.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	if c != nil {
		s.current.Store(c)
	}
	return s
}

// Load returns the active snapshot, or nil when none is loaded.
func (s *Store) Load() *Catalog {
	return s.current.Load()
}

// Swap installs c and returns the previous snapshot.
func (s *Store) Swap(c *Catalog) *Catalog {
	return s.current.Swap(c)
}

package schema

import (
	"fmt"
	"maps"
	"regexp"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/unitwork/internal/mapper"
	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/relation"
)

var identifier = regexp.MustCompile(`^[\p{Ll}_][\p{Ll}\p{Nd}_]*$`)

// Column types.
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeText    = "text"
	TypeBoolean = "boolean"
	TypeBlob    = "blob"
)

var validTypes = map[string]bool{
	TypeInteger: true,
	TypeReal:    true,
	TypeText:    true,
	TypeBoolean: true,
	TypeBlob:    true,
}

// entityDraft accumulates one role while relations add columns to it.
type entityDraft struct {
	entity     *orm.Entity
	types      map[string]string
	foreign    []ForeignKey
	own        []string // columns the mapper reads from the object
	relations  []relation.Definition
	shadows    []relation.Definition
	embeddable bool
}

func (d *entityDraft) addColumn(col string, own bool) {
	if !slices.Contains(d.entity.Columns, col) {
		d.entity.Columns = append(d.entity.Columns, col)
	}
	if own && !slices.Contains(d.own, col) {
		d.own = append(d.own, col)
	}
}

// Compile validates doc and builds its registry. All errors are collected
// before returning.
func Compile(doc *Document) (*Registry, error) {
	c := &compiler{doc: doc, drafts: make(map[string]*entityDraft)}
	return c.compile()
}

type compiler struct {
	doc    *Document
	drafts map[string]*entityDraft
	errs   CompileErrors
}

func (c *compiler) fail(field, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) compile() (*Registry, error) {
	if c.doc == nil || len(c.doc.Roles) == 0 {
		return nil, &CompileError{Field: "roles", Message: "at least one role is required"}
	}
	names := slices.Sorted(maps.Keys(c.doc.Roles))

	c.checkNames(names)
	for _, name := range names {
		c.declare(name, c.doc.Roles[name])
	}
	for _, name := range names {
		for i, rd := range c.doc.Roles[name].Relations {
			c.relation(name, i, rd)
		}
	}
	if len(c.errs) > 0 {
		return nil, c.errs
	}

	reg := newRegistry()
	for _, name := range names {
		d := c.drafts[name]
		defs := append(slices.Clone(d.relations), d.shadows...)
		rels := make([]orm.Relation, 0, len(defs))
		for _, def := range defs {
			rel, err := relation.New(def)
			if err != nil {
				c.fail(name+".relations."+def.Name, "%v", err)
				continue
			}
			rels = append(rels, rel)
		}
		rm, err := orm.NewRelationMap(rels...)
		if err != nil {
			c.fail(name+".relations", "%v", err)
			continue
		}
		d.entity.Relations = rm

		relNames := make([]string, len(d.relations))
		for i, def := range d.relations {
			relNames[i] = def.Name
		}
		d.entity.Mapper = mapper.NewRecordMapper(name, d.own, relNames)
		reg.add(d.entity, d.embeddable)
		reg.types[name] = d.types
		reg.foreign[name] = d.foreign
	}
	if len(c.errs) > 0 {
		return nil, c.errs
	}
	return reg, nil
}

// checkNames rejects identifiers that are not NFC lower-case names and
// roles or tables that collide once case-folded.
func (c *compiler) checkNames(names []string) {
	fold := cases.Fold()
	seen := make(map[string]string)
	for _, name := range names {
		c.checkIdent("roles."+name, name)
		rd := c.doc.Roles[name]
		table := rd.Table
		if table == "" {
			table = name
		}
		key := fold.String(table)
		if other, dup := seen[key]; dup {
			c.fail("roles."+name+".table", "table %q collides with role %s", table, other)
		}
		seen[key] = name
		for _, col := range rd.Columns {
			c.checkIdent("roles."+name+".columns", col)
		}
	}
}

func (c *compiler) checkIdent(field, s string) {
	if !norm.NFC.IsNormalString(s) {
		c.fail(field, "identifier %q is not NFC normalized", s)
		return
	}
	if !identifier.MatchString(s) {
		c.fail(field, "invalid identifier %q", s)
	}
}

func (c *compiler) declare(name string, rd RoleDoc) {
	field := "roles." + name
	e := &orm.Entity{
		Role:       name,
		Table:      rd.Table,
		PrimaryKey: slices.Clone(rd.PrimaryKey),
		Keys:       orm.KeyStrategy(rd.Keys),
		Indexes:    slices.Clone(rd.Indexes),
	}
	if e.Table == "" {
		e.Table = name
	}
	if e.Keys == "" {
		e.Keys = orm.KeyAuto
	}
	switch e.Keys {
	case orm.KeyAuto, orm.KeyUUID, orm.KeyNone:
	default:
		c.fail(field+".keys", "unknown key strategy %q", rd.Keys)
	}

	d := &entityDraft{entity: e, embeddable: rd.Embeddable, types: make(map[string]string)}
	c.drafts[name] = d
	for col, typ := range rd.Types {
		if !validTypes[typ] {
			c.fail(field+".types."+col, "unknown column type %q", typ)
		}
		d.types[col] = typ
	}
	if rd.Embeddable {
		e.PrimaryKey = nil
		for _, col := range rd.Columns {
			d.addColumn(col, true)
		}
		if len(rd.Relations) > 0 {
			c.fail(field+".relations", "embeddable roles cannot declare relations")
		}
		return
	}

	if len(e.PrimaryKey) == 0 {
		e.PrimaryKey = []string{"id"}
	}
	for _, pk := range e.PrimaryKey {
		d.addColumn(pk, true)
		if _, typed := d.types[pk]; !typed && e.Keys == orm.KeyAuto {
			d.types[pk] = TypeInteger
		}
	}
	for _, col := range rd.Columns {
		d.addColumn(col, true)
	}
	for i, idx := range e.Indexes {
		for _, col := range idx {
			if !slices.Contains(e.Columns, col) {
				c.fail(fmt.Sprintf("%s.indexes[%d]", field, i), "unknown column %q", col)
			}
		}
	}
}

func (c *compiler) relation(owner string, i int, rd RelationDoc) {
	field := fmt.Sprintf("roles.%s.relations[%d]", owner, i)
	d := c.drafts[owner]
	if rd.Name == "" {
		c.fail(field+".name", "name is required")
		return
	}
	c.checkIdent(field+".name", rd.Name)
	if slices.Contains(d.entity.Columns, rd.Name) {
		c.fail(field+".name", "relation %q shadows a column", rd.Name)
	}
	if _, ok := relation.SideOf(rd.Kind); !ok || rd.Kind == relation.KindShadow {
		c.fail(field+".kind", "unknown relation kind %q (want one of belongs_to, refers_to, has_one, has_many, embedded)", rd.Kind)
		return
	}
	target, ok := c.drafts[rd.Target]
	if !ok {
		c.fail(field+".target", "unknown role %q", rd.Target)
		return
	}
	if target.embeddable != (rd.Kind == relation.KindEmbedded) {
		c.fail(field+".target", "%s cannot target %s", rd.Kind, rd.Target)
		return
	}

	def := relation.Definition{
		Name:      rd.Name,
		Kind:      rd.Kind,
		Target:    rd.Target,
		InnerKeys: slices.Clone(rd.InnerKeys),
		OuterKeys: slices.Clone(rd.OuterKeys),
		Cascade:   rd.Cascade == nil || *rd.Cascade,
		Nullable:  rd.Nullable != nil && *rd.Nullable,
		Prefix:    rd.Prefix,
	}

	switch rd.Kind {
	case relation.KindBelongsTo, relation.KindRefersTo:
		if rd.Kind == relation.KindRefersTo {
			if rd.Nullable != nil && !*rd.Nullable {
				c.fail(field+".nullable", "refers_to is always nullable")
			}
			def.Nullable = true
		}
		if len(def.OuterKeys) == 0 {
			def.OuterKeys = slices.Clone(target.entity.PrimaryKey)
		}
		if len(def.InnerKeys) == 0 {
			def.InnerKeys = foreignKeys(rd.Name, def.OuterKeys)
		}
		if !c.pairs(field, def) {
			return
		}
		for _, k := range def.InnerKeys {
			d.addColumn(k, true)
		}
		c.requireColumns(field+".outer_keys", target, def.OuterKeys)
		d.reference(target, def.InnerKeys, def.OuterKeys)

	case relation.KindHasOne, relation.KindHasMany:
		if len(def.InnerKeys) == 0 {
			def.InnerKeys = slices.Clone(d.entity.PrimaryKey)
		}
		if len(def.OuterKeys) == 0 {
			def.OuterKeys = foreignKeys(owner, def.InnerKeys)
		}
		if !c.pairs(field, def) {
			return
		}
		c.requireColumns(field+".inner_keys", d, def.InnerKeys)
		for _, k := range def.OuterKeys {
			target.addColumn(k, true)
		}
		target.reference(d, def.OuterKeys, def.InnerKeys)
		def.Shadow = ShadowName(owner, rd.Name)
		target.shadows = append(target.shadows, relation.Definition{
			Name:      def.Shadow,
			Kind:      relation.KindShadow,
			Target:    owner,
			InnerKeys: slices.Clone(def.OuterKeys),
			OuterKeys: slices.Clone(def.InnerKeys),
			Nullable:  def.Nullable,
		})

	case relation.KindEmbedded:
		if def.Prefix == "" {
			def.Prefix = rd.Name + "_"
		}
		for _, col := range target.entity.Columns {
			d.addColumn(def.Prefix+col, false)
			if typ, ok := target.types[col]; ok {
				d.types[def.Prefix+col] = typ
			}
		}
	}
	d.relations = append(d.relations, def)
}

// reference records a foreign key from d to target. Foreign key columns
// take the type of the referenced key.
func (d *entityDraft) reference(target *entityDraft, columns, references []string) {
	for i, col := range columns {
		if _, typed := d.types[col]; !typed {
			if typ, ok := target.types[references[i]]; ok {
				d.types[col] = typ
			}
		}
	}
	for _, fk := range d.foreign {
		if slices.Equal(fk.Columns, columns) {
			return
		}
	}
	d.foreign = append(d.foreign, ForeignKey{
		Columns:    slices.Clone(columns),
		Table:      target.entity.Table,
		References: slices.Clone(references),
	})
}

func (c *compiler) pairs(field string, def relation.Definition) bool {
	if len(def.InnerKeys) != len(def.OuterKeys) {
		c.fail(field, "inner keys %v do not pair with outer keys %v", def.InnerKeys, def.OuterKeys)
		return false
	}
	return true
}

func (c *compiler) requireColumns(field string, d *entityDraft, cols []string) {
	for _, col := range cols {
		if !slices.Contains(d.entity.Columns, col) {
			c.fail(field, "%s has no column %q", d.entity.Role, col)
		}
	}
}

// ShadowName is the name of the relation generated on the target of a
// has_one or has_many relation.
func ShadowName(owner, relation string) string {
	return owner + "." + relation
}

// foreignKeys derives foreign key column names: author + [id] -> [author_id].
func foreignKeys(prefix string, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = prefix + "_" + k
	}
	return out
}

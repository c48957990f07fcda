package relorm

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gertd/go-pluralize"
)

var pluralizeClient = pluralize.NewClient()

// LogicalType names the column's value domain independent of any driver's
// native wire type, so the row mapper and translator can agree on decode
// and comparison rules (nullability, enum-by-name, UTC normalization, ...).
type LogicalType int

const (
	LogicalString LogicalType = iota
	LogicalInt
	LogicalInt64
	LogicalFloat
	LogicalBool
	LogicalDateTime
	LogicalGUID
	LogicalTimeSpan
	LogicalEnum
	LogicalBytes
)

// VersionRole marks whether and how a column participates in optimistic
// concurrency control on UPDATE statements.
type VersionRole int

const (
	VersionNone VersionRole = iota
	VersionInteger
	VersionTimestamp
)

// NavigationKind distinguishes the three relationship shapes the include
// planner and mutation planner know how to traverse.
type NavigationKind int

const (
	NavToOne NavigationKind = iota
	NavInverseToMany
	NavManyToMany
)

// Column describes one mapped struct field.
type Column struct {
	Name          string
	FieldName     string
	FieldIndex    []int
	FieldType     reflect.Type
	Logical       LogicalType
	Length        int
	Nullable      bool
	IsPrimaryKey  bool
	AutoIncrement bool
	Version       VersionRole
	EnumNames     map[int64]string // for LogicalEnum, ordinal -> name (exact ordinal lookup on decode)
}

// Navigation describes a relationship from the owning entity to another
// Descriptor, used exclusively by the include planner and never by
// ordinary column mapping.
type Navigation struct {
	Name        string
	FieldIndex  []int
	Kind        NavigationKind
	TargetType  reflect.Type
	ForeignKey  string // FK column, on the "many" side for ToOne/InverseToMany
	JoinTable   string // ManyToMany only
	JoinOwnerFK string // ManyToMany only: join table column referencing the owner
	JoinOtherFK string // ManyToMany only: join table column referencing the target
}

// Index describes a named, possibly-composite, possibly-unique index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Descriptor is the immutable per-entity metadata the rest of the engine
// builds queries, mutations, and mappings from.
type Descriptor struct {
	Type          reflect.Type
	TableName     string
	Columns       []*Column
	ColumnsByName map[string]*Column
	ColumnsByField map[string]*Column
	PrimaryKey    *Column
	VersionColumn *Column
	Navigations   map[string]*Navigation
	Indexes       []*Index
}

// Configurable lets an entity type describe itself via a fluent builder
// instead of (or in addition to) tags, for navigations and indexes struct
// tags can't express.
type Configurable interface {
	Configure(c *EntityConfigurator)
}

// EntityConfigurator is the fluent builder passed to an entity's Configure
// method. Tag-based inference runs first to populate Columns from struct
// tags; Configure can then override the table name, attach navigations, and
// declare indexes that tags cannot express.
type EntityConfigurator struct {
	desc *Descriptor
}

// Table overrides the inferred table name.
func (c *EntityConfigurator) Table(name string) *EntityConfigurator {
	c.desc.TableName = name
	return c
}

// ToOne declares a to-one navigation: fieldName holds *Target, and
// foreignKey is the FK column on THIS entity's table pointing at Target's PK.
func (c *EntityConfigurator) ToOne(fieldName string, target reflect.Type, foreignKey string) *EntityConfigurator {
	idx := fieldIndexByName(c.desc.Type, fieldName)
	c.desc.Navigations[fieldName] = &Navigation{
		Name: fieldName, FieldIndex: idx, Kind: NavToOne,
		TargetType: target, ForeignKey: foreignKey,
	}
	return c
}

// InverseToMany declares the inverse of a ToOne: fieldName holds []*Target,
// and foreignKey is the FK column on Target's table pointing back at this entity.
func (c *EntityConfigurator) InverseToMany(fieldName string, target reflect.Type, foreignKey string) *EntityConfigurator {
	idx := fieldIndexByName(c.desc.Type, fieldName)
	c.desc.Navigations[fieldName] = &Navigation{
		Name: fieldName, FieldIndex: idx, Kind: NavInverseToMany,
		TargetType: target, ForeignKey: foreignKey,
	}
	return c
}

// ManyToMany declares a join-table relationship.
func (c *EntityConfigurator) ManyToMany(fieldName string, target reflect.Type, joinTable, ownerFK, otherFK string) *EntityConfigurator {
	idx := fieldIndexByName(c.desc.Type, fieldName)
	c.desc.Navigations[fieldName] = &Navigation{
		Name: fieldName, FieldIndex: idx, Kind: NavManyToMany,
		TargetType: target, JoinTable: joinTable, JoinOwnerFK: ownerFK, JoinOtherFK: otherFK,
	}
	return c
}

// Index declares a named index over one or more columns.
func (c *EntityConfigurator) Index(name string, unique bool, columns ...string) *EntityConfigurator {
	c.desc.Indexes = append(c.desc.Indexes, &Index{Name: name, Columns: columns, Unique: unique})
	return c
}

func fieldIndexByName(typ reflect.Type, name string) []int {
	f, ok := typ.FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("relorm: field %s not found on %s", name, typ.Name()))
	}
	return f.Index
}

var (
	descriptorCache sync.Map // reflect.Type -> *Descriptor
)

// Describe returns the (cached) Descriptor for entity type T, building it on
// first use via struct-tag inference plus an optional Configure hook.
func Describe[T any]() *Descriptor {
	var t T
	return DescribeType(reflect.TypeOf(t))
}

// DescribeType is the non-generic entry point used where only a reflect.Type
// is available (e.g. navigation targets discovered at runtime).
func DescribeType(typ reflect.Type) *Descriptor {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if cached, ok := descriptorCache.Load(typ); ok {
		return cached.(*Descriptor)
	}
	if typ.Kind() != reflect.Struct {
		panic("relorm: entity type must be a struct")
	}

	desc := &Descriptor{
		Type:           typ,
		ColumnsByName:  make(map[string]*Column),
		ColumnsByField: make(map[string]*Column),
		Navigations:    make(map[string]*Navigation),
	}

	ptrVal := reflect.New(typ)
	if tn, ok := ptrVal.Interface().(interface{ TableName() string }); ok {
		desc.TableName = tn.TableName()
	} else {
		desc.TableName = pluralizeClient.Plural(ToSnakeCase(typ.Name()))
	}

	parseColumns(typ, desc, nil)

	if configurable, ok := ptrVal.Interface().(Configurable); ok {
		configurable.Configure(&EntityConfigurator{desc: desc})
	}

	if err := validateDescriptor(desc); err != nil {
		panic(err)
	}

	actual, _ := descriptorCache.LoadOrStore(typ, desc)
	return actual.(*Descriptor)
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

func parseColumns(typ reflect.Type, desc *Descriptor, prefix []int) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}

		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Type != timeType {
			parseColumns(field.Type, desc, append(append([]int{}, prefix...), i))
			continue
		}

		if isNavigationField(field.Type) {
			continue
		}

		tag := field.Tag.Get("relorm")
		if tag == "-" {
			continue
		}

		col := &Column{
			Name:      ToSnakeCase(field.Name),
			FieldName: field.Name,
			FieldType: field.Type,
			Logical:   inferLogicalType(field.Type),
		}
		col.FieldIndex = append(append([]int{}, prefix...), i)

		if field.Type.Kind() == reflect.Pointer {
			col.Nullable = true
		}

		for _, part := range strings.Split(tag, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			kv := strings.SplitN(part, ":", 2)
			key := strings.TrimSpace(kv[0])
			val := ""
			if len(kv) > 1 {
				val = strings.TrimSpace(kv[1])
			}
			switch key {
			case "column":
				col.Name = val
			case "primary":
				col.IsPrimaryKey = true
			case "auto":
				col.AutoIncrement = true
			case "nullable":
				col.Nullable = true
			case "version":
				if val == "timestamp" {
					col.Version = VersionTimestamp
				} else {
					col.Version = VersionInteger
				}
			case "enum":
				col.Logical = LogicalEnum
			case "length":
				fmt.Sscanf(val, "%d", &col.Length)
			}
		}

		if field.Name == "ID" && !col.IsPrimaryKey {
			col.IsPrimaryKey = true
			col.AutoIncrement = true
		}

		desc.Columns = append(desc.Columns, col)
		desc.ColumnsByName[col.Name] = col
		desc.ColumnsByField[col.FieldName] = col

		if col.IsPrimaryKey {
			desc.PrimaryKey = col
		}
		if col.Version != VersionNone {
			desc.VersionColumn = col
		}
	}
}

func inferLogicalType(t reflect.Type) LogicalType {
	if t.Kind() == reflect.Pointer {
		return inferLogicalType(t.Elem())
	}
	switch {
	case t == timeType:
		return LogicalDateTime
	case t == durationType:
		return LogicalTimeSpan
	case t.Name() == "UUID":
		return LogicalGUID
	}
	switch t.Kind() {
	case reflect.String:
		return LogicalString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return LogicalInt
	case reflect.Int64:
		return LogicalInt64
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return LogicalInt64
	case reflect.Float32, reflect.Float64:
		return LogicalFloat
	case reflect.Bool:
		return LogicalBool
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return LogicalBytes
		}
	}
	return LogicalString
}

// isNavigationField reports whether t represents a relationship field that
// the column parser should skip in favor of the navigation registry:
// pointers to structs (except *time.Time) and slices of structs/pointers.
func isNavigationField(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer:
		return t.Elem().Kind() == reflect.Struct && t.Elem() != timeType
	case reflect.Slice:
		elem := t.Elem()
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		return elem.Kind() == reflect.Struct && elem != timeType
	default:
		return false
	}
}

func validateDescriptor(desc *Descriptor) error {
	if desc.PrimaryKey == nil {
		return fmt.Errorf("%w: %s has no primary key column", ErrSchemaMismatch, desc.Type.Name())
	}
	seenPK := 0
	seenColumnNames := make(map[string]bool)
	for _, col := range desc.Columns {
		if col.IsPrimaryKey {
			seenPK++
		}
		if seenColumnNames[col.Name] {
			return fmt.Errorf("%w: duplicate column name %q on %s", ErrSchemaMismatch, col.Name, desc.Type.Name())
		}
		seenColumnNames[col.Name] = true
	}
	if seenPK > 1 {
		return fmt.Errorf("%w: %s declares more than one primary key column", ErrSchemaMismatch, desc.Type.Name())
	}
	seenVersion := 0
	for _, col := range desc.Columns {
		if col.Version != VersionNone {
			seenVersion++
		}
	}
	if seenVersion > 1 {
		return fmt.Errorf("%w: %s declares more than one version column", ErrSchemaMismatch, desc.Type.Name())
	}
	for _, nav := range desc.Navigations {
		switch nav.Kind {
		case NavToOne, NavInverseToMany:
			if nav.ForeignKey == "" {
				return fmt.Errorf("%w: navigation %q on %s has no foreign key target", ErrSchemaMismatch, nav.Name, desc.Type.Name())
			}
		case NavManyToMany:
			if nav.JoinOwnerFK == "" && nav.JoinOtherFK == "" {
				return fmt.Errorf("%w: many-to-many navigation %q on %s is missing both join endpoints", ErrSchemaMismatch, nav.Name, desc.Type.Name())
			}
		}
	}
	seenIndexNames := make(map[string]bool)
	for _, idx := range desc.Indexes {
		if seenIndexNames[idx.Name] {
			return fmt.Errorf("%w: duplicate index name %q on %s", ErrSchemaMismatch, idx.Name, desc.Type.Name())
		}
		seenIndexNames[idx.Name] = true
		for _, c := range idx.Columns {
			if _, ok := desc.ColumnsByName[c]; !ok {
				return fmt.Errorf("%w: index %q references unknown column %q on %s", ErrSchemaMismatch, idx.Name, c, desc.Type.Name())
			}
		}
	}
	return nil
}

package relorm

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type metaWidget struct {
	ID      int `relorm:"column:id;primary;auto"`
	Name    string
	OwnerID int
}

func (metaWidget) TableName() string { return "meta_widgets" }

func TestDescribe_InfersTableNameFromPluralizedSnakeCase(t *testing.T) {
	type lineItem struct {
		ID int `relorm:"column:id;primary;auto"`
	}
	desc := DescribeType(reflect.TypeOf(lineItem{}))
	assert.Equal(t, "line_items", desc.TableName)
}

func TestDescribe_TableNameMethodOverridesInference(t *testing.T) {
	desc := Describe[metaWidget]()
	assert.Equal(t, "meta_widgets", desc.TableName)
}

func TestDescribe_PrimaryKeyAndColumns(t *testing.T) {
	desc := Describe[metaWidget]()
	require.NotNil(t, desc.PrimaryKey)
	assert.Equal(t, "id", desc.PrimaryKey.Name)
	assert.True(t, desc.PrimaryKey.AutoIncrement)

	col, ok := desc.ColumnsByField["OwnerID"]
	require.True(t, ok)
	assert.Equal(t, "owner_id", col.Name)
}

func TestValidateDescriptor_RejectsMissingPrimaryKey(t *testing.T) {
	type noPK struct {
		Name string
	}
	assert.Panics(t, func() {
		DescribeType(reflect.TypeOf(noPK{}))
	})
}

func TestValidateDescriptor_RejectsDuplicateColumnNames(t *testing.T) {
	type dup struct {
		ID int    `relorm:"column:id;primary;auto"`
		A  string `relorm:"column:same"`
		B  string `relorm:"column:same"`
	}
	assert.Panics(t, func() {
		DescribeType(reflect.TypeOf(dup{}))
	})
}

func TestValidateDescriptor_RejectsMultiplePrimaryKeys(t *testing.T) {
	type dualPK struct {
		ID   int `relorm:"column:id;primary;auto"`
		Also int `relorm:"column:also;primary"`
	}
	assert.Panics(t, func() {
		DescribeType(reflect.TypeOf(dualPK{}))
	})
}

func TestValidateDescriptor_RejectsManyToManyMissingBothJoinEndpoints(t *testing.T) {
	type mmTarget struct {
		ID int `relorm:"column:id;primary;auto"`
	}
	type mmOwner struct {
		ID      int `relorm:"column:id;primary;auto"`
		Targets []*mmTarget
	}

	c := &EntityConfigurator{desc: &Descriptor{
		Type:           reflect.TypeOf(mmOwner{}),
		ColumnsByName:  map[string]*Column{"id": {Name: "id", IsPrimaryKey: true}},
		ColumnsByField: map[string]*Column{"ID": {Name: "id", IsPrimaryKey: true, FieldName: "ID"}},
		Navigations:    map[string]*Navigation{},
	}}
	c.desc.PrimaryKey = c.desc.ColumnsByField["ID"]
	c.desc.Columns = []*Column{c.desc.PrimaryKey}
	c.ManyToMany("Targets", reflect.TypeOf(mmTarget{}), "join_table", "", "")

	err := validateDescriptor(c.desc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestDescribe_CachesDescriptorByType(t *testing.T) {
	a := Describe[metaWidget]()
	b := Describe[metaWidget]()
	assert.Same(t, a, b)
}

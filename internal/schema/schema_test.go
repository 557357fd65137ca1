package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		sqlType string
		want    TypeClass
	}{
		{"int", Numeric},
		{"INTEGER", Numeric},
		{"bigint unsigned", Numeric},
		{"decimal(10,2)", Numeric},
		{"double precision", Numeric},
		{"boolean", Boolean},
		{"varchar", Text},
		{"character varying", Text},
		{"longtext", Text},
		{"VARCHAR(200)", Text},
		{"date", Temporal},
		{"timestamp without time zone", Temporal},
		{"TIMESTAMP", Temporal},
		{"datetime", Temporal},
		{"bytea", Binary},
		{"longblob", Binary},
		{"bit", Bit},
		{"bit(1)", Bit},
		{"bit varying", Bit},
		{"", Text},
		{"json", Text},
		{"uuid", Text},
		{"point", Text},
		{"multipoint", Text},
		{"int4range", Text},
		{"int8range", Text},
		{"integer[]", Text},
		{"UNSIGNED BIG INT", Text},
	}

	for _, tc := range testCases {
		t.Run(tc.sqlType, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.sqlType))
		})
	}
}

func TestClassifyAffinity(t *testing.T) {
	testCases := []struct {
		sqlType string
		want    TypeClass
	}{
		{"INTEGER", Numeric},
		{"UNSIGNED BIG INT", Numeric},
		{"NATIVE CHARACTER(70)", Text},
		{"VARYING CHARACTER(255)", Text},
		{"CLOB", Text},
		{"BLOB", Binary},
		{"DOUBLE PRECISION", Numeric},
		{"FLOATING POINT", Numeric},
		{"DATETIME", Temporal},
		{"", Text},
		{"json", Text},
	}

	for _, tc := range testCases {
		t.Run(tc.sqlType, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyAffinity(tc.sqlType))
		})
	}
}

func TestTypeClass_Quoted(t *testing.T) {
	assert.True(t, Text.Quoted())
	assert.True(t, Temporal.Quoted())
	assert.False(t, Numeric.Quoted())
	assert.False(t, Boolean.Quoted())
	assert.False(t, Binary.Quoted())
	assert.False(t, Bit.Quoted())
	assert.Equal(t, "bit", Bit.String())
}

func TestNewTable_SingleKey(t *testing.T) {
	tbl, err := NewTable("orders", []Column{
		{Name: "id", SQLType: "int", Class: Numeric, PrimaryKey: true},
		{Name: "status", SQLType: "text", Class: Text},
		{Name: "total", SQLType: "int", Class: Numeric, Generated: true},
		{Name: "amount", SQLType: "int", Class: Numeric},
	})
	require.NoError(t, err)

	assert.Equal(t, "id", tbl.PrimaryKey)
	assert.Equal(t, "id", tbl.Key().Name)
	assert.Equal(t, []string{"id", "status", "amount"}, names(tbl.Writable()))
	assert.Equal(t, []string{"status", "amount"}, names(tbl.NonKey()))
}

func TestNewTable_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		cols    []Column
		wantErr string
	}{
		{"zero columns", nil, "zero columns"},
		{"no key", []Column{{Name: "a"}}, "no primary key"},
		{"composite key", []Column{{Name: "a", PrimaryKey: true}, {Name: "b", PrimaryKey: true}}, "composite primary key (a, b)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable("t", tc.cols)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("syntax error near 'FOR'")

	err := Install("orders", "orders_log_after_insert", cause)

	assert.Equal(t,
		"INSTALL: trigger rejected by engine (table=orders, trigger=orders_log_after_insert): syntax error near 'FOR'",
		err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_MessageTableOnly(t *testing.T) {
	err := Introspection("orders", "table reports zero columns", nil)

	assert.Equal(t, "INTROSPECTION: table reports zero columns (table=orders)", err.Error())
}

func TestClassifiers_ThroughWrapping(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"connectivity", Connectivity("ping", errors.New("refused")), IsConnectivity},
		{"introspection", Introspection("t", "boom", nil), IsIntrospection},
		{"schema conflict", SchemaConflict("db_log", "missing up_sql"), IsSchemaConflict},
		{"install", Install("t", "t_log_after_update", errors.New("denied")), IsInstall},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("process table: %w", tc.err)
			assert.True(t, tc.check(wrapped))
		})
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.False(t, IsSchemaConflict(errors.New("plain")))
	assert.False(t, IsConnectivity(nil))
}

func TestCodeOf_Joined(t *testing.T) {
	joined := errors.Join(errors.New("other"), SchemaConflict("db_log", "bad"))

	var fe *Error
	require.True(t, errors.As(joined, &fe))
	assert.Equal(t, CodeSchemaConflict, fe.Code)
}

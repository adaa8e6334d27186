package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountByIDFindsMatch(t *testing.T) {
	c := DaemonConfig{Accounts: []AccountConfig{{ID: "a1"}, {ID: "a2"}}}
	a, ok := c.AccountByID("a2")
	require.True(t, ok)
	assert.Equal(t, "a2", a.ID)
}

func TestAccountByIDMissing(t *testing.T) {
	c := DaemonConfig{Accounts: []AccountConfig{{ID: "a1"}}}
	_, ok := c.AccountByID("missing")
	assert.False(t, ok)
}

func TestOrderedAccountsFollowsOrderThenAppendsRest(t *testing.T) {
	c := DaemonConfig{
		Accounts:     []AccountConfig{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}},
		AccountOrder: []string{"a3", "a1"},
	}
	ordered := c.OrderedAccounts()
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"a3", "a1", "a2"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

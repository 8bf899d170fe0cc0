package condbag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLookupReplace(t *testing.T) {
	b := New()
	b.Add(ForceFlag, "")
	v, ok := b.Lookup(ForceFlag)
	require.True(t, ok)
	assert.Equal(t, "", v)

	b.Add(DestRescName, "resc1")
	b.Add(DestRescName, "resc2")
	v, ok = b.Lookup(DestRescName)
	require.True(t, ok)
	assert.Equal(t, "resc2", v)
	assert.Equal(t, 2, b.Len())
}

func TestGetAbsent(t *testing.T) {
	b := New()
	assert.Equal(t, "absent", b.Get(ReplNum))
	b.Add(ReplNum, "3")
	assert.Equal(t, "3", b.Get(ReplNum))
}

func TestRemove(t *testing.T) {
	b := New()
	b.Add(All, "")
	b.Add(VerifyChksum, "")
	b.Remove(All)
	assert.False(t, b.Has(All))
	assert.True(t, b.Has(VerifyChksum))
	assert.Equal(t, 1, b.Len())
}

func TestUnknownKeywordsPreserved(t *testing.T) {
	b := New()
	b.Add(Keyword("SOME_FUTURE_KEYWORD"), "x")
	v, ok := b.Lookup(Keyword("SOME_FUTURE_KEYWORD"))
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestCloneIsIndependent(t *testing.T) {
	b := New()
	b.Add(RescName, "resc1")
	c := b.Clone()
	c.Add(RescName, "resc2")
	assert.Equal(t, "resc1", b.Get(RescName))
	assert.Equal(t, "resc2", c.Get(RescName))
}

func TestClear(t *testing.T) {
	b := New()
	b.Add(All, "")
	b.Add(ForceFlag, "")
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Has(All))
}

func TestKeysPreservesOrder(t *testing.T) {
	b := New()
	b.Add(DestRescName, "r1")
	b.Add(BackupRescName, "r2")
	b.Add(ForceFlag, "")
	assert.Equal(t, []Keyword{DestRescName, BackupRescName, ForceFlag}, b.Keys())
}

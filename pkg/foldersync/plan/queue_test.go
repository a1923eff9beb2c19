package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/foldersync/pkg/foldersync/core"
)

func indexOf(t *testing.T, ops []core.Operation, id core.OperationID) int {
	t.Helper()
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	t.Fatalf("operation %s not in %v", id, ops)
	return -1
}

func assertBefore(t *testing.T, ops []core.Operation, first, second core.Operation) {
	t.Helper()
	assert.Less(t, indexOf(t, ops, first.ID), indexOf(t, ops, second.ID),
		"%s must run before %s", first, second)
}

func TestQueueAddRejectsDuplicates(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Add(core.NewCopyFile("a.txt")))

	err := q.Add(core.NewCopyFile("a.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// same path, different type is a different operation
	require.NoError(t, q.Add(core.NewDelete("a.txt", core.KindDirectory)))
	assert.Equal(t, 2, q.Len())
}

func TestQueueResolveEmpty(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Resolve())
	assert.Empty(t, q.Operations())
}

func TestQueueResolveOrdering(t *testing.T) {
	copyDeep := core.NewCopyFile("x/y/z.txt")
	mkdirY := core.NewCreateDirectory("x/y")
	mkdirX := core.NewCreateDirectory("x")
	copyP := core.NewCopyFile("p")
	deleteP := core.NewDelete("p", core.KindDirectory)
	deleteOld := core.NewDelete("old.txt", core.KindFile)
	copyTop := core.NewCopyFile("top.txt")

	q := NewQueue()
	// deliberately reversed
	require.NoError(t, q.Add(copyDeep, mkdirY, mkdirX, copyP, deleteP, copyTop, deleteOld))
	require.NoError(t, q.Resolve())

	ops := q.Operations()
	require.Len(t, ops, 7)
	assertBefore(t, ops, mkdirX, mkdirY)
	assertBefore(t, ops, mkdirY, copyDeep)
	assertBefore(t, ops, mkdirX, copyDeep)
	assertBefore(t, ops, deleteP, copyP)

	// deletions lead
	assert.Equal(t, core.OpDelete, ops[0].Type)
	assert.Equal(t, core.OpDelete, ops[1].Type)
	for _, op := range ops[2:] {
		assert.NotEqual(t, core.OpDelete, op.Type)
	}
}

func TestQueueDeleteBeforeCreatesBeneath(t *testing.T) {
	deleteDir := core.NewDelete("d", core.KindFile)
	mkdir := core.NewCreateDirectory("d")
	copyChild := core.NewCopyFile("d/f.txt")

	q := NewQueue()
	require.NoError(t, q.Add(copyChild, mkdir, deleteDir))
	require.NoError(t, q.Resolve())

	ops := q.Operations()
	assertBefore(t, ops, deleteDir, mkdir)
	assertBefore(t, ops, deleteDir, copyChild)
	assertBefore(t, ops, mkdir, copyChild)
}

func TestQueueDependencies(t *testing.T) {
	deleteP := core.NewDelete("p", core.KindFile)
	mkdirP := core.NewCreateDirectory("p")
	copyChild := core.NewCopyFile("p/c.txt")

	q := NewQueue()
	require.NoError(t, q.Add(deleteP, mkdirP, copyChild))

	assert.Empty(t, q.Dependencies(deleteP))
	assert.Equal(t, []core.OperationID{deleteP.ID}, q.Dependencies(mkdirP))
	assert.ElementsMatch(t, []core.OperationID{deleteP.ID, mkdirP.ID}, q.Dependencies(copyChild))
}

func TestQueueIndependentOperationsKeepOrder(t *testing.T) {
	a := core.NewCopyFile("a")
	b := core.NewCopyFile("b")
	c := core.NewCopyFile("c")

	q := NewQueue()
	require.NoError(t, q.Add(a, b, c))
	require.NoError(t, q.Resolve())

	assert.Equal(t, []core.Operation{a, b, c}, q.Operations())
}

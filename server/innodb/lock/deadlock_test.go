package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeadlockDetector(t *testing.T) {
	dd := NewDeadlockDetector()

	t.Run("无环", func(t *testing.T) {
		assert.Nil(t, dd.SetWaitFor(1, []int64{2}))
		assert.Nil(t, dd.SetWaitFor(2, []int64{3}))
		assert.Nil(t, dd.FindCycle(1))
	})

	t.Run("形成环", func(t *testing.T) {
		cycle := dd.SetWaitFor(3, []int64{1})
		assert.ElementsMatch(t, []int64{3, 1, 2}, cycle)
		assert.Equal(t, int64(3), cycle[0])
	})

	t.Run("移除事务后环消失", func(t *testing.T) {
		dd.RemoveTransaction(2)
		assert.Nil(t, dd.FindCycle(1))
		assert.Nil(t, dd.FindCycle(3))
		graph := dd.GetWaitForGraph()
		assert.NotContains(t, graph, int64(2))
		assert.Equal(t, []int64{1}, graph[3])
	})

	t.Run("自等待被忽略", func(t *testing.T) {
		dd.ClearWaiter(3)
		assert.Nil(t, dd.SetWaitFor(5, []int64{5}))
	})
}

package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shelf(total, available int, status BookStatus) *Book {
	return &Book{UUID: "b", Title: "T", CopiesTotal: total, CopiesAvailable: available, Status: status}
}

func TestLendCopy(t *testing.T) {
	b := shelf(2, 2, BookAvailable)
	require.NoError(t, lendCopy(b))
	assert.Equal(t, 1, b.CopiesAvailable)
	assert.Equal(t, BookAvailable, b.Status)

	require.NoError(t, lendCopy(b))
	assert.Equal(t, 0, b.CopiesAvailable)
	assert.Equal(t, BookBorrowed, b.Status)

	assert.ErrorIs(t, lendCopy(b), ErrUnavailable)
	assert.Equal(t, 0, b.CopiesAvailable)
}

func TestReceiveCopy(t *testing.T) {
	tests := []struct {
		cond          Condition
		wantTotal     int
		wantAvailable int
		wantStatus    BookStatus
	}{
		{ConditionGood, 2, 1, BookAvailable},
		{ConditionFair, 2, 1, BookAvailable},
		{ConditionDamaged, 2, 0, BookBorrowed},
		{ConditionLost, 1, 0, BookBorrowed},
	}
	for _, tc := range tests {
		t.Run(string(tc.cond), func(t *testing.T) {
			b := shelf(2, 0, BookBorrowed)
			require.NoError(t, receiveCopy(b, tc.cond))
			assert.Equal(t, tc.wantTotal, b.CopiesTotal)
			assert.Equal(t, tc.wantAvailable, b.CopiesAvailable)
			assert.Equal(t, tc.wantStatus, b.Status)
		})
	}

	assert.ErrorIs(t, receiveCopy(shelf(1, 0, BookBorrowed), "torn"), ErrInvalidInput)
}

func TestReceiveCopyRejectsOverflow(t *testing.T) {
	b := shelf(1, 1, BookAvailable)
	assert.ErrorIs(t, receiveCopy(b, ConditionGood), ErrInventoryInconsistent)

	b = shelf(1, 1, BookAvailable)
	assert.ErrorIs(t, receiveCopy(b, ConditionLost), ErrInventoryInconsistent)
}

func TestAddCopies(t *testing.T) {
	b := shelf(1, 0, BookBorrowed)
	require.NoError(t, addCopies(b, 2, 2))
	assert.Equal(t, 3, b.CopiesTotal)
	assert.Equal(t, 2, b.CopiesAvailable)
	assert.Equal(t, BookAvailable, b.Status)

	assert.ErrorIs(t, addCopies(b, 0, 0), ErrInvalidInput)
	assert.ErrorIs(t, addCopies(b, 1, 2), ErrInvalidInput)

	shelved := shelf(1, 0, BookBorrowed)
	require.NoError(t, addCopies(shelved, 1, 0))
	assert.Equal(t, 2, shelved.CopiesTotal)
	assert.Equal(t, BookBorrowed, shelved.Status)

	damaged := shelf(1, 1, BookDamaged)
	require.NoError(t, addCopies(damaged, 1, 1))
	assert.Equal(t, BookDamaged, damaged.Status)
}

func TestCheckInventory(t *testing.T) {
	assert.NoError(t, CheckInventory(shelf(0, 0, BookBorrowed)))
	assert.NoError(t, CheckInventory(shelf(3, 3, BookAvailable)))
	assert.ErrorIs(t, CheckInventory(shelf(1, 2, BookAvailable)), ErrInventoryInconsistent)
	assert.ErrorIs(t, CheckInventory(shelf(1, -1, BookAvailable)), ErrInventoryInconsistent)
}

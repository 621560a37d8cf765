package library

import "fmt"

// Inventory is the copy-count pair of a book. Updates to the books table are
// conditional on the pair read at the start of the transaction.
type Inventory struct {
	Total     int
	Available int
}

func inventoryOf(b *Book) Inventory {
	return Inventory{Total: b.CopiesTotal, Available: b.CopiesAvailable}
}

// CheckInventory verifies 0 <= copies_available <= copies_total.
func CheckInventory(b *Book) error {
	if b.CopiesTotal < 0 || b.CopiesAvailable < 0 || b.CopiesAvailable > b.CopiesTotal {
		return fmt.Errorf("book %s: available=%d total=%d: %w",
			b.UUID, b.CopiesAvailable, b.CopiesTotal, ErrInventoryInconsistent)
	}
	return nil
}

// lendCopy takes one copy off the shelf. The book is marked borrowed once the
// last copy is out.
func lendCopy(b *Book) error {
	if b.CopiesAvailable <= 0 {
		return fmt.Errorf("book %q: %w", b.Title, ErrUnavailable)
	}
	b.CopiesAvailable--
	if b.CopiesAvailable == 0 {
		b.Status = BookBorrowed
	}
	return CheckInventory(b)
}

// receiveCopy books a returned copy back in. Good and fair copies return to
// the shelf. Damaged copies stay out of circulation and lost copies leave the
// collection entirely; in both cases the status is left alone.
func receiveCopy(b *Book, cond Condition) error {
	switch cond {
	case ConditionGood, ConditionFair:
		b.CopiesAvailable++
		if b.CopiesAvailable > 0 {
			b.Status = BookAvailable
		}
	case ConditionDamaged:
	case ConditionLost:
		b.CopiesTotal--
	default:
		return invalid("condition", "unknown condition %q", cond)
	}
	return CheckInventory(b)
}

// addCopies grows the pool when more copies of an existing title arrive,
// available of them ready to lend.
func addCopies(b *Book, n, available int) error {
	if n <= 0 {
		return invalid("copies_total", "must be at least 1")
	}
	if available < 0 || available > n {
		return invalid("copies_available", "must be between 0 and copies_total")
	}
	b.CopiesTotal += n
	b.CopiesAvailable += available
	if b.CopiesAvailable > 0 && b.Status == BookBorrowed {
		b.Status = BookAvailable
	}
	return CheckInventory(b)
}

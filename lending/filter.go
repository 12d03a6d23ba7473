package lending

import "github.com/google/uuid"

// LoanFilter selects loans. Zero values do not restrict; several states are OR-ed.
type LoanFilter struct {
	BorrowerID uuid.UUID
	MaterialID uuid.UUID
	States     []LoanState
	Limit      int
}

// ForBorrower restricts the filter to the loans of one borrower.
func (f LoanFilter) ForBorrower(borrowerID uuid.UUID) LoanFilter {
	f.BorrowerID = borrowerID
	return f
}

// ForMaterial restricts the filter to the loans of one material.
func (f LoanFilter) ForMaterial(materialID uuid.UUID) LoanFilter {
	f.MaterialID = materialID
	return f
}

// InAnyStateOf restricts the filter to loans in one of the given states.
func (f LoanFilter) InAnyStateOf(states ...LoanState) LoanFilter {
	f.States = append([]LoanState(nil), states...)
	return f
}

// Holding restricts the filter to loans that hold copies.
func (f LoanFilter) Holding() LoanFilter {
	return f.InAnyStateOf(LoanStateReserved, LoanStatePickedUp)
}

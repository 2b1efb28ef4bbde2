package patients

import "time"

// Patient is a clinical record holder.
type Patient struct {
	ID        int64
	FullName  string
	Document  string
	Phone     string
	Email     string
	BirthDate *time.Time
	Notes     string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BirthDateValue formats the birth date for form inputs.
func (p Patient) BirthDateValue() string {
	if p.BirthDate == nil {
		return ""
	}
	return p.BirthDate.Format(dateLayout)
}

// Input is the create/update form of a patient.
type Input struct {
	FullName  string `form:"full_name" json:"full_name" validate:"required,max=160"`
	Document  string `form:"document" json:"document" validate:"required,max=32"`
	Phone     string `form:"phone" json:"phone" validate:"omitempty,max=40"`
	Email     string `form:"email" json:"email" validate:"omitempty,email,max=254"`
	BirthDate string `form:"birth_date" json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Notes     string `form:"notes" json:"notes" validate:"max=2000"`
}

// FromPatient pre-fills the form with a stored record.
func FromPatient(p Patient) Input {
	return Input{
		FullName:  p.FullName,
		Document:  p.Document,
		Phone:     p.Phone,
		Email:     p.Email,
		BirthDate: p.BirthDateValue(),
		Notes:     p.Notes,
	}
}

// Record is the validated, normalised version of Input handed to the store.
type Record struct {
	FullName  string
	Document  string
	Phone     string
	Email     string
	BirthDate *time.Time
	Notes     string
}

const dateLayout = "2006-01-02"
